package transcribe

import "strings"

// DefaultTranscriptionPrompt asks for a diarized JSON transcript of one chunk.
const DefaultTranscriptionPrompt = `
Transcribe this audio recording of a meeting with speaker diarization.
Return the transcription in JSON format with the following structure:
[
    {
        "timestamp": "MM:SS - MM:SS",
        "speaker": "Speaker X",
        "text": "transcribed text"
    },
    ...
]
Use Speaker A, Speaker B, etc., to identify speakers.
Include timestamps in the format MM:SS - MM:SS to indicate the start and end of each segment.
Ensure the timestamps are accurate and align precisely with the audio content, accounting for pauses, silence, or noise.
The audio may contain Malay speech; try to provide accurate timestamps despite language limitations.
`

// DefaultSummaryPrompt asks for a structured general meeting summary.
const DefaultSummaryPrompt = `
You are creating a general summary of a meeting transcript. Provide a concise and informative overview that captures the key elements of the discussion.

A good general summary should include:

*   **Meeting Objective:** What was the purpose of the meeting? What problem were they trying to solve, or what goal were they trying to achieve?

*   **Key Topics Discussed:** What were the main subjects covered during the meeting? Include specific details and examples where relevant, but avoid getting lost in minor points.

*   **Key Decisions Made:** What significant decisions were reached during the meeting? Who made those decisions, and what was the reasoning behind them?

*   **Action Items:** What specific tasks or follow-up activities were assigned to whom? Be sure to include deadlines, if mentioned.

*   **Outstanding Issues:** Are there any open questions or unresolved problems that need further attention?

*   **Next Steps:** What are the planned next steps following the meeting? Are there future meetings scheduled?

Your summary should be accurate, objective, and easy to understand. Focus on extracting the core information; avoid verbatim transcription or unnecessary details.
`

// BuildPrompt appends caller instructions to the default transcription prompt.
func BuildPrompt(instructions string) string {
	instructions = strings.TrimSpace(instructions)
	if instructions == "" {
		return DefaultTranscriptionPrompt
	}
	return DefaultTranscriptionPrompt + "\n\nAdditional Instructions: " + instructions
}
