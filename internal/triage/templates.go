package triage

import "github.com/linnemanlabs/soctriage/internal/incident"

// Template is the fixed analyst guidance rendered for a category.
type Template struct {
	Summary            string
	Rationale          []string
	RecommendedActions []string
	EvidenceToCollect  []string
}

var defaultTemplate = Template{
	Summary: "Недостаточно данных для уверенной классификации.",
	Rationale: []string{
		"Сигнал может быть шумом или неполным описанием инцидента.",
		"Нужны дополнительные артефакты для анализа.",
	},
	RecommendedActions: []string{
		"Уточнить источник события и временной диапазон.",
		"Запросить сырые логи и коррелирующие алерты (SIEM).",
		"Собрать таймлайн пользователя/хоста.",
	},
	EvidenceToCollect: []string{"raw event", "related alerts", "user/host timeline"},
}

var templates = map[incident.Category]Template{
	incident.CategoryAccountTakeover: {
		Summary: "Вероятный захват аккаунта (account takeover).",
		Rationale: []string{
			"Обнаружены признаки аномального входа/поведения.",
			"Сценарий похож на компрометацию учётных данных.",
		},
		RecommendedActions: []string{
			"Завершить активные сессии пользователя.",
			"Инициировать сброс пароля / re-auth.",
			"Проверить историю логинов за 24 часа и IP-репутацию.",
		},
		EvidenceToCollect: []string{"login logs", "ip reputation", "device fingerprint", "geo history"},
	},
	incident.CategoryBruteforce: {
		Summary: "Похоже на перебор пароля (bruteforce).",
		Rationale: []string{
			"Есть множественные неуспешные попытки аутентификации.",
			"Паттерн соответствует автоматизированным попыткам входа.",
		},
		RecommendedActions: []string{
			"Включить rate-limit / временную блокировку по IP/аккаунту.",
			"Проверить IP-репутацию и распределение попыток по пользователям.",
			"Эскалировать, если был успешный вход после серии фейлов.",
		},
		EvidenceToCollect: []string{"auth logs", "ip reputation", "rate-limit logs"},
	},
	incident.CategoryPhishing: {
		Summary: "Похоже на фишинг.",
		Rationale: []string{
			"В описании присутствуют маркеры письма/ссылки.",
			"Типовой вектор атаки — вредоносная ссылка/вложение.",
		},
		RecommendedActions: []string{
			"Изолировать артефакты (URL/хэши), проверить репутацию домена.",
			"Предупредить пользователя/подразделение, запретить переход по ссылке.",
			"Проверить, были ли клики/запуски вложения и последующие алерты.",
		},
		EvidenceToCollect: []string{"email headers", "url/domain reputation", "endpoint logs", "proxy logs"},
	},
	incident.CategoryUnknown: defaultTemplate,
}

// TemplateFor returns a copy of the template for c, or the default
// template when c has none.
func TemplateFor(c incident.Category) Template {
	t, ok := templates[c]
	if !ok {
		t = defaultTemplate
	}
	return Template{
		Summary:            t.Summary,
		Rationale:          append([]string(nil), t.Rationale...),
		RecommendedActions: append([]string(nil), t.RecommendedActions...),
		EvidenceToCollect:  append([]string(nil), t.EvidenceToCollect...),
	}
}
