// Package bus provides the in-process publish/subscribe bus connecting the
// terminal front end to the circulation layer, including request/response
// correlation: every request is published together with a unique pair of
// reply and error subjects, so concurrent requests on the same subject can
// never receive each other's answers.
package bus
