// Package deepseek provides the fallback chat completion client. The
// backoff controller switches to it after repeated primary-provider
// failures within a claim cycle.
package deepseek
