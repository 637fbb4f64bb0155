// Package bridge relays link traffic to MQTT broker.
//
// Topics:
// - <prefix>/recv/<link> every received payload
// - <prefix>/status/<link> "connected" or "disconnected", retained
// - <prefix>/online bridge presence, retained "1", will "0"
// - <prefix>/send commands for links
package bridge

import (
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/temoto/msgsock/log2"
	"github.com/temoto/msgsock/msgsock"
)

const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"

	defaultQueue = 64
)

type Options struct {
	Log            *log2.Log
	Broker         string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	Keepalive      time.Duration
	NetworkTimeout time.Duration
	LogDebug       bool

	// replaced in tests
	NewClient func(*mqtt.ClientOptions) mqtt.Client
}

type Bridge struct {
	log      *log2.Log
	opt      Options
	m        mqtt.Client
	mopt     *mqtt.ClientOptions
	commands chan string

	topicOnline string
	topicSend   string
	topicRecv   string
	topicStatus string
}

func New(opt Options) *Bridge {
	if opt.TopicPrefix == "" {
		opt.TopicPrefix = "msgsock"
	}
	if opt.ClientID == "" {
		opt.ClientID = "msgsock"
	}
	if opt.Keepalive <= 0 {
		opt.Keepalive = 60 * time.Second
	}
	if opt.NetworkTimeout <= 0 {
		opt.NetworkTimeout = 30 * time.Second
	}
	if opt.NewClient == nil {
		opt.NewClient = mqtt.NewClient
	}
	prefix := strings.TrimSuffix(opt.TopicPrefix, "/")
	b := &Bridge{
		log:         opt.Log,
		opt:         opt,
		commands:    make(chan string, defaultQueue),
		topicOnline: prefix + "/online",
		topicSend:   prefix + "/send",
		topicRecv:   prefix + "/recv/",
		topicStatus: prefix + "/status/",
	}

	setMqttLog(b.log, opt.LogDebug)
	b.mopt = mqtt.NewClientOptions().
		AddBroker(opt.Broker).
		SetClientID(opt.ClientID).
		SetUsername(opt.Username).
		SetPassword(opt.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetKeepAlive(opt.Keepalive).
		SetPingTimeout(opt.NetworkTimeout).
		SetConnectTimeout(opt.NetworkTimeout).
		SetWill(b.topicOnline, "0", 1, true).
		SetDefaultPublishHandler(b.messageHandler).
		SetOnConnectHandler(b.onConnectHandler).
		SetConnectionLostHandler(b.connectLostHandler)
	return b
}

// paho loggers are package globals
var mqttLogMu sync.Mutex

func setMqttLog(log *log2.Log, debug bool) {
	mqttLogMu.Lock()
	defer mqttLogMu.Unlock()
	mqtt.ERROR = log
	mqtt.CRITICAL = log
	mqtt.WARN = log
	if debug {
		mqtt.DEBUG = log
	}
}

// Connect blocks until first broker connection or network timeout.
func (b *Bridge) Connect() error {
	if b.opt.Broker == "" {
		return errors.NotValidf("mqtt broker empty")
	}
	b.m = b.opt.NewClient(b.mopt)
	token := b.m.Connect()
	if !token.WaitTimeout(b.opt.NetworkTimeout) {
		return errors.Timeoutf("mqtt connect broker=%s", b.opt.Broker)
	}
	if err := token.Error(); err != nil {
		return errors.Annotatef(err, "mqtt connect broker=%s", b.opt.Broker)
	}
	return nil
}

func (b *Bridge) Close() {
	if b.m == nil {
		return
	}
	b.publish(b.topicOnline, true, "0")
	b.m.Disconnect(uint(b.opt.NetworkTimeout / time.Millisecond))
	b.log.Infof("mqtt disconnect")
}

// Commands yields payloads from <prefix>/send.
func (b *Bridge) Commands() <-chan string { return b.commands }

// Source feeds server broadcast loop with commands.
func (b *Bridge) Source() msgsock.MessageSource { return msgsock.ChanSource(b.commands) }

// Bind chains bridge into link callbacks, previous callbacks still run first.
func (b *Bridge) Bind(opt *msgsock.Options) {
	prevMessage, prevConnected, prevDisconnected := opt.OnMessage, opt.OnConnected, opt.OnDisconnected
	opt.OnMessage = func(source, payload string) {
		if prevMessage != nil {
			prevMessage(source, payload)
		}
		b.OnMessage(source, payload)
	}
	opt.OnConnected = func(source string) {
		if prevConnected != nil {
			prevConnected(source)
		}
		b.OnStatus(source, StatusConnected)
	}
	opt.OnDisconnected = func(source string) {
		if prevDisconnected != nil {
			prevDisconnected(source)
		}
		b.OnStatus(source, StatusDisconnected)
	}
}

func (b *Bridge) OnMessage(source, payload string) {
	b.publish(b.topicRecv+TopicSafe(source), false, payload)
}

func (b *Bridge) OnStatus(source, status string) {
	b.publish(b.topicStatus+TopicSafe(source), true, status)
}

// TopicSafe replaces MQTT level separator and wildcards.
func TopicSafe(s string) string {
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}

func (b *Bridge) publish(topic string, retain bool, payload string) {
	if b.m == nil {
		return
	}
	b.log.Debugf("mqtt publish topic=%s payload=%q", topic, payload)
	// not waiting for token, link receive loop must not block on broker
	b.m.Publish(topic, 1, retain, payload)
}

func (b *Bridge) messageHandler(c mqtt.Client, msg mqtt.Message) {
	payload := strings.TrimSpace(string(msg.Payload()))
	msg.Ack()
	if payload == "" {
		return
	}
	b.log.Infof("mqtt command topic=%s payload=%q", msg.Topic(), payload)
	select {
	case b.commands <- payload:
	default:
		b.log.Errorf("mqtt command queue full, dropped payload=%q", payload)
	}
}

func (b *Bridge) connectLostHandler(c mqtt.Client, err error) {
	b.log.Errorf("mqtt connection lost err=%v", err)
}

func (b *Bridge) onConnectHandler(c mqtt.Client) {
	b.log.Infof("mqtt connect")
	if token := c.Subscribe(b.topicSend, 1, nil); token.Wait() && token.Error() != nil {
		b.log.Errorf("mqtt subscribe topic=%s err=%v", b.topicSend, token.Error())
		return
	}
	b.publish(b.topicOnline, true, "1")
}
