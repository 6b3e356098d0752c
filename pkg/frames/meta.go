package frames

// Well-known meta keys shared between the session boundary and the engine.
const (
	MetaStreamID      = "stream_id"
	MetaSource        = "source"
	MetaReason        = "reason"
	MetaReplyID       = "reply_id"
	MetaSeq           = "seq"
	MetaSpeaker       = "speaker"
	MetaFinal         = "final"
	MetaCodec         = "codec"
	MetaInstructionID = "instruction_id"
	MetaSpeed         = "speed"
)

// Speaker values carried under MetaSpeaker on transcript frames.
const (
	SpeakerUser  = "user"
	SpeakerAgent = "agent"
)

// SystemFrame names emitted by session implementations.
const (
	SysReplyComplete = "reply_complete"
	SysInterrupted   = "interrupted"
	SysClosed        = "closed"
	SysError         = "error"
)
