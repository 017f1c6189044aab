package job

// Well-known job types produced by the platform. The store is type-agnostic;
// these only name the handlers the platform registers.
const (
	TypeGenerateReply   = "ai.generate_reply"
	TypeSendMessage     = "message.send"
	TypeUpdateScore     = "lead.update_score"
	TypeProcessImage    = "media.process_image"
	TypeScheduledReport = "report.scheduled"
)
