package hive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/golang/glog"
)

const ClientBufferSize = 32

type RealtimeClientSettings struct {
	WsHandshakeTimeout time.Duration
	ReconnectTimeout   time.Duration
	PingTimeout        time.Duration
	WriteTimeout       time.Duration
}

func DefaultRealtimeClientSettings() *RealtimeClientSettings {
	return &RealtimeClientSettings{
		WsHandshakeTimeout: 2 * time.Second,
		ReconnectTimeout:   5 * time.Second,
		PingTimeout:        15 * time.Second,
		WriteTimeout:       5 * time.Second,
	}
}

// RealtimeClient maintains one realtime channel to the server, reconnecting
// on transport failure. Outbound messages are queued on `Send`; inbound
// frames are delivered on `Receive` in arrival order.
type RealtimeClient struct {
	ctx    context.Context
	cancel context.CancelFunc

	wsUrl string
	auth  *ChannelAuth

	settings *RealtimeClientSettings

	send    chan []byte
	receive chan []byte
}

func NewRealtimeClientWithDefaults(ctx context.Context, wsUrl string, auth *ChannelAuth) *RealtimeClient {
	return NewRealtimeClient(ctx, wsUrl, auth, DefaultRealtimeClientSettings())
}

func NewRealtimeClient(
	ctx context.Context,
	wsUrl string,
	auth *ChannelAuth,
	settings *RealtimeClientSettings,
) *RealtimeClient {
	cancelCtx, cancel := context.WithCancel(ctx)
	client := &RealtimeClient{
		ctx:      cancelCtx,
		cancel:   cancel,
		wsUrl:    wsUrl,
		auth:     auth,
		settings: settings,
		send:     make(chan []byte, ClientBufferSize),
		receive:  make(chan []byte, ClientBufferSize),
	}
	go client.run()
	return client
}

func (self *RealtimeClient) run() {
	defer func() {
		self.cancel()
		close(self.receive)
	}()

	userId, _ := self.auth.UserId()

	dialUrl, err := self.dialUrl()
	if err != nil {
		glog.Infof("[c]bad url = %s\n", err)
		return
	}

	for {
		dialer := &websocket.Dialer{
			HandshakeTimeout: self.settings.WsHandshakeTimeout,
		}
		ws, _, err := dialer.DialContext(self.ctx, dialUrl, nil)
		if err != nil {
			glog.Infof("[c]connect error %s = %s\n", userId, err)
			select {
			case <-self.ctx.Done():
				return
			case <-time.After(self.settings.ReconnectTimeout):
				continue
			}
		}

		self.handle(ws, userId)

		select {
		case <-self.ctx.Done():
			return
		case <-time.After(self.settings.ReconnectTimeout):
		}
	}
}

func (self *RealtimeClient) handle(ws *websocket.Conn, userId Id) {
	defer ws.Close()

	handleCtx, handleCancel := context.WithCancel(self.ctx)
	defer handleCancel()

	go func() {
		defer handleCancel()

		for {
			select {
			case <-handleCtx.Done():
				return
			case frame, ok := <-self.send:
				if !ok {
					return
				}
				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
					glog.Infof("[c]%s-> error = %s\n", userId, err)
					return
				}
				glog.V(2).Infof("[c]%s->\n", userId)
			case <-time.After(self.settings.PingTimeout):
				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(self.settings.WriteTimeout)); err != nil {
					return
				}
			}
		}
	}()

	for {
		select {
		case <-handleCtx.Done():
			return
		default:
		}

		_, frame, err := ws.ReadMessage()
		if err != nil {
			glog.V(1).Infof("[c]%s<- closed = %s\n", userId, err)
			return
		}
		select {
		case <-handleCtx.Done():
			return
		case self.receive <- frame:
			glog.V(2).Infof("[c]%s<-\n", userId)
		}
	}
}

func (self *RealtimeClient) dialUrl() (string, error) {
	parsed, err := url.Parse(self.wsUrl)
	if err != nil {
		return "", err
	}
	query := parsed.Query()
	query.Set("token", self.auth.Token)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// Send queues one message for delivery. The message is serialized as a
// json text frame.
func (self *RealtimeClient) Send(message any) error {
	frame, err := json.Marshal(message)
	if err != nil {
		return err
	}
	select {
	case <-self.ctx.Done():
		return errors.New("client closed")
	case self.send <- frame:
		return nil
	}
}

func (self *RealtimeClient) SendEnvelope(messageType string, payload any) error {
	return self.Send(map[string]any{
		"type":    messageType,
		"payload": payload,
	})
}

// Receive returns the inbound frame channel. It is closed when the client
// shuts down.
func (self *RealtimeClient) Receive() <-chan []byte {
	return self.receive
}

func (self *RealtimeClient) Close() {
	self.cancel()
}

func (self *RealtimeClient) String() string {
	return fmt.Sprintf("realtime client %s", self.wsUrl)
}
