package rpcapi

// Resulter is implemented by every response message that embeds a Result.
// The retrying client uses it to classify a successful RPC as an
// application-level error without needing per-message-type knowledge.
type Resulter interface {
	GetResult() Result
}

func (m Empty) GetResult() Result             { return m.R }
func (m Filter) GetResult() Result             { return m.R }
func (m ServiceInfo) GetResult() Result        { return m.R }
func (m MultiServiceInfo) GetResult() Result   { return m.R }
func (m ConfigItem) GetResult() Result         { return m.R }
func (m ConfigStatus) GetResult() Result       { return m.R }
func (m LoggerStatus) GetResult() Result       { return m.R }
func (m EventStatus) GetResult() Result        { return m.R }
func (m EventQueuesStatus) GetResult() Result  { return m.R }
func (m EventSendResult) GetResult() Result    { return m.R }
