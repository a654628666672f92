// Package prompts contains the LLM prompt templates Godel sends.
//
// Prompt text is Go code rather than config files because it is program
// logic: templates are interpolated with fmt and can be validated by
// tests. A configured system_prompt replaces the base prompt but the
// environment section is always appended.
package prompts
