// Package triage is the business boundary for incident triage. The Service
// validates a request, routes it with the keyword router, renders the fixed
// response template for the category, appends an audit record and returns
// the result. It also fronts the audit queries and the evidence retriever.
package triage
