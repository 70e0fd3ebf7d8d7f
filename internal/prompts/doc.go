// Package prompts contains all LLM prompt templates and canned replies used
// by vidchat.
//
// Prompt text is Go code rather than config files because it is program logic:
// templates use fmt.Sprintf interpolation, benefit from compile-time embedding,
// and can be validated by tests. User-facing configuration lives in config.yaml;
// this package holds the instructions we send to models (video Q&A, transcript
// summaries) and the deterministic text returned when no model is involved.
//
// Convention: each prompt category gets its own file (chat.go, summary.go,
// replies.go) with an exported function that accepts the dynamic parts and
// returns the fully interpolated prompt string.
package prompts
