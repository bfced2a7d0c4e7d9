// Package events defines the JSON wire format for the five call-lifecycle
// notifications this service consumes, per spec.md §6. It has no
// dependency on the lifecycle or control-plane packages so both can import
// it without an import cycle.
package events

// Envelope carries the fields common to every lifecycle event.
type Envelope struct {
	EventName string `json:"event_name"`
	EventTime string `json:"event_time"`
	CallID    string `json:"call_id"`
	ChanID    string `json:"chan_id"`
	SendTime  string `json:"send_time"`
	Token     string `json:"token"`
}

// CreateInfo is the `info` payload of a CREATE event.
type CreateInfo struct {
	EMHost        string `json:"em_host"`
	EMPort        int    `json:"em_port"`
	EMCodec       string `json:"em_codec"`
	EMWaitSeconds int    `json:"em_wait_seconds"`
	EMSampleRate  int    `json:"em_sample_rate"`
	EMSampleWidth int    `json:"em_sample_width"`

	SaveRecord       int    `json:"save_record"`
	SaveFormat       string `json:"save_format"`
	SaveSampleRate   int    `json:"save_sample_rate"`
	SaveSampleWidth  int    `json:"save_sample_width"`
	SaveFilename     string `json:"save_filename"`
	SaveConcatCallID string `json:"save_concat_call_id"`

	SpeechRecognition         bool `json:"speech_recognition"`
	DetectionAutoresponse     bool `json:"detection_autoresponse"`
	DetectionVoiceStart       bool `json:"detection_voice_start"`
	DetectionAbsoluteSilence  bool `json:"detection_absolute_silence"`

	CallbackHost string `json:"callback_host"`
	CallbackPort int    `json:"callback_port"`
}

// EndpointInfo is the `info` payload shared by PROGRESS, ANSWER, and
// DESTROY events: an em_address plus the SSRC once known.
type EndpointInfo struct {
	EMHost string `json:"em_host"`
	EMPort int    `json:"em_port"`
	EMSSRC int64  `json:"em_ssrc"`
}

// ProgressInfo is the `info` payload of a PROGRESS event.
type ProgressInfo = EndpointInfo

// AnswerInfo is the `info` payload of an ANSWER event.
type AnswerInfo = EndpointInfo

// DestroyInfo is the `info` payload of a DESTROY event.
type DestroyInfo = EndpointInfo

// DetectInfo is the `info` payload of a DETECT event.
type DetectInfo struct {
	EMHost       string `json:"em_host"`
	EMPort       int    `json:"em_port"`
	EMSSRC       int64  `json:"em_ssrc"`

	FromDetectTime            string   `json:"from_detect_time"`
	ToDetectTime              string   `json:"to_detect_time"`
	StopWords                 []string `json:"stop_words"`
	StopAfterNoiseAndSilence  bool     `json:"stop_after_noise_and_silence"`
}

// CreateEvent, ProgressEvent, AnswerEvent, DetectEvent, and DestroyEvent
// are the concrete JSON request bodies the control plane decodes.
type CreateEvent struct {
	Envelope
	Info CreateInfo `json:"info"`
}

type ProgressEvent struct {
	Envelope
	Info ProgressInfo `json:"info"`
}

type AnswerEvent struct {
	Envelope
	Info AnswerInfo `json:"info"`
}

type DetectEvent struct {
	Envelope
	Info DetectInfo `json:"info"`
}

type DestroyEvent struct {
	Envelope
	Info DestroyInfo `json:"info"`
}
