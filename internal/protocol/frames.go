package protocol

// HelloFrame is the client→server hello (spec §6).
type HelloFrame struct {
	MessageType MessageType `json:"messageType"`
	UAID        string      `json:"uaid"`
	ChannelIDs  []string    `json:"channelIDs"`
	UseWebPush  bool        `json:"use_webpush"`
}

// NewHelloFrame builds a hello frame; uaid may be empty (spec §4.9.1).
func NewHelloFrame(uaid string, channelIDs []string) HelloFrame {
	if channelIDs == nil {
		channelIDs = []string{}
	}
	return HelloFrame{
		MessageType: MessageHello,
		UAID:        uaid,
		ChannelIDs:  channelIDs,
		UseWebPush:  true,
	}
}

// RegisterFrame is the client→server register (spec §6).
type RegisterFrame struct {
	MessageType MessageType `json:"messageType"`
	ChannelID   string      `json:"channelID"`
	Key         string      `json:"key"`
}

func NewRegisterFrame(channelID, applicationServerKey string) RegisterFrame {
	return RegisterFrame{MessageType: MessageRegister, ChannelID: channelID, Key: applicationServerKey}
}

// UnregisterFrame is the client→server unregister (spec §6).
type UnregisterFrame struct {
	MessageType MessageType    `json:"messageType"`
	ChannelID   string         `json:"channelID"`
	Code        UnregisterCode `json:"code"`
}

func NewUnregisterFrame(channelID string, code UnregisterCode) UnregisterFrame {
	return UnregisterFrame{MessageType: MessageUnregister, ChannelID: channelID, Code: code}
}

// AckUpdate is one entry of an ack frame's updates list.
type AckUpdate struct {
	ChannelID string  `json:"channelID"`
	Version   string  `json:"version"`
	Code      AckCode `json:"code"`
}

// AckFrame is the client→server ack batch (spec §4.8, §6).
type AckFrame struct {
	MessageType MessageType `json:"messageType"`
	Updates     []AckUpdate `json:"updates"`
}

func NewAckFrame(updates []AckUpdate) AckFrame {
	return AckFrame{MessageType: MessageAck, Updates: updates}
}

// NackFrame is the client→server nack (spec §6). Reserved: nothing in
// this engine sends one today (spec §4.6).
type NackFrame struct {
	MessageType MessageType `json:"messageType"`
	ChannelID   string      `json:"channelID"`
	Version     string      `json:"version"`
	Code        NackCode    `json:"code"`
}

// BroadcastSubscribeFrame is the client→server broadcast_subscribe
// (spec §6). sender.BroadcastSubscribeSender builds it, but the mediator
// never sends one.
type BroadcastSubscribeFrame struct {
	MessageType MessageType       `json:"messageType"`
	Broadcasts  map[string]string `json:"broadcasts"`
}

// PingFrame is the client→server ping (spec §6); it carries no fields
// beyond its messageType.
type PingFrame struct {
	MessageType MessageType `json:"messageType"`
}

func NewPingFrame() PingFrame {
	return PingFrame{MessageType: MessagePing}
}

// ServerHelloFrame is the server→client hello reply (spec §6).
type ServerHelloFrame struct {
	MessageType MessageType `json:"messageType"`
	Status      int         `json:"status"`
	UAID        string      `json:"uaid"`
	UseWebPush  bool        `json:"useWebPush"`
}

// ServerRegisterFrame is the server→client register reply (spec §6).
type ServerRegisterFrame struct {
	MessageType  MessageType `json:"messageType"`
	Status       int         `json:"status"`
	ChannelID    string      `json:"channelID"`
	PushEndpoint string      `json:"pushEndpoint"`
}

// ServerUnregisterFrame is the server→client unregister reply (spec §6).
type ServerUnregisterFrame struct {
	MessageType MessageType `json:"messageType"`
	Status      int         `json:"status"`
	ChannelID   string      `json:"channelID"`
}

// NotificationFrame is the server→client push notification (spec §6).
// Data and Headers are absent for a keepalive notification (spec §4.4).
type NotificationFrame struct {
	MessageType MessageType       `json:"messageType"`
	ChannelID   string            `json:"channelID"`
	Version     string            `json:"version"`
	TTL         int               `json:"ttl"`
	Data        *string           `json:"data,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// HasData reports whether the notification carries a payload at all
// (spec §4.4: "if msg.data is absent, dispatch notification(null)").
func (n NotificationFrame) HasData() bool {
	return n.Data != nil
}

// Encoding returns the declared Content-Encoding for this
// notification, checking both the header casing the spec allows
// (spec §6: "Content-Encoding or lowercase encoding").
func (n NotificationFrame) Encoding() string {
	if n.Headers == nil {
		return ""
	}
	if v, ok := n.Headers["Content-Encoding"]; ok {
		return v
	}
	return n.Headers["encoding"]
}

// BroadcastFrame is the server→client broadcast (spec §6). Its fields
// are implementation-defined; the handler accepts and no-ops (spec
// §4.7), so only the envelope's messageType matters here.
type BroadcastFrame struct {
	MessageType MessageType       `json:"messageType"`
	Broadcasts  map[string]string `json:"broadcasts,omitempty"`
}

// ServerPingFrame is the server→client ping (spec §6); carries no
// fields beyond its messageType.
type ServerPingFrame struct {
	MessageType MessageType `json:"messageType"`
}
