package llm

import "github.com/ncolesummers/multi-research/pkg/domain"

// SystemPrompt returns the system message for a generate mode
func SystemPrompt(mode domain.GenerateMode) string {
	if mode == domain.ModeSynthesis {
		return synthesisSystemPrompt
	}
	return researchSystemPrompt
}

// UserPrompt returns the user message for a request
func UserPrompt(req domain.GenerateRequest) string {
	if req.Mode == domain.ModeSynthesis {
		return req.Topic
	}
	return "Please create a comprehensive research report on the following topic:\n\n" + req.Topic
}

const citationInstructions = `
IMPORTANT - Citation Requirements:
- Use inline citations in the format [1], [2], [3] throughout the report
- Every major claim, statistic, or fact should carry a citation
- End the report with a "## References" section
- List each reference as: [n] Author/Organization. "Title." Source Name, Date. URL
- Number references to match the inline citations
- Include at least 5-10 cited sources
`

const researchSystemPrompt = `You are an expert research assistant producing comprehensive, in-depth research reports.

When conducting research:
1. Start with a clear overview of the topic
2. Explore multiple perspectives and viewpoints
3. Include relevant data, statistics, and examples
4. Cite sources inline using [1], [2], etc.
5. Identify key trends, challenges, and opportunities
6. Provide analysis and insights, not just information
7. Structure the report with clear markdown sections and subsections
8. Summarize the key findings
9. Suggest areas for further research
` + citationInstructions + `
Format the report in Markdown with headings, bullet points, tables for comparative data,
and a ## References section at the end. A typical report runs 3000-8000 words.`

const synthesisSystemPrompt = `You are an editor combining research written by several independent AI providers.
Keep every distinct fact, attribute disagreements to their source, remove repetition,
and preserve inline citation markers such as [1]. Respond with markdown only.`
