package llm

// --- Translation Prompts ---
const TranslateSystemPrompt = "You are a helpful assistant that translates any text to English."
const TranslateUserPrompt = "Translate the following text to English:\n\n"

// --- Summary Prompt ---
// The input text is appended after the "Input Text:" heading; the model continues after "Summary:".
const SummaryPrompt = `Summarize the following text, focusing on these key aspects of a reimbursement request. The output must be in english language.:

- **Type of Reimbursement Request:** (e.g., new drug application, price adjustment, expanded indication, etc.)
- **Key Stakeholders Involved:** (e.g., pharmaceutical company, payers, government agencies, patient advocacy groups, healthcare providers)
- **Potential Impact on Existing Market Access Strategies:** (e.g., changes to pricing, formulary placement, patient access programs, competitive landscape)
- **Any Urgent Aspects Requiring Attention:** (e.g., deadlines, critical data releases, regulatory changes, market events)

Input Text:
%s

Summary:
`

// refusalPhrases mark responses in which the model declined instead of answering.
var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"as a large language model",
}
