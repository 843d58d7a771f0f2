// Package policy loads limit policies from a YAML file and keeps them
// current as the file changes.
//
// The provider is a limits.PolicyProvider. Features missing from the file
// return limits.ErrPolicyUnavailable, which the engine answers with its
// default policy.
package policy
