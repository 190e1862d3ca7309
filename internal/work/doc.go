// Package work defines the named kinds of work that can be submitted by name
// with JSON parameters, as the HTTP API and the demo command do, along with
// the registry that builds them.
package work
