// Package host exposes a wsbridge.Registry to a scripting host as named commands with
// positional arguments, answered through callbacks.
package host

import (
	"time"

	"github.com/sonirico/wsbridge"
)

const (
	ActionConnect          = "connect"
	ActionSend             = "send"
	ActionClose            = "close"
	ActionRegisterListener = "registerListener"
	ActionListClients      = "listClients"
)

// Dispatcher maps host actions onto registry operations.
type Dispatcher struct {
	registry *wsbridge.Registry
	logger   wsbridge.Logger
}

func NewDispatcher(registry *wsbridge.Registry, logger wsbridge.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		logger:   logger.WithField("component", "dispatcher"),
	}
}

// Execute runs action and answers through cb. It reports false for unknown actions, after
// answering them with an error.
//
//	connect          [url, protocols?, headers?, binaryType?, handshakeTimeoutMs?] -> id
//	send             [id, message]
//	close            [id, code?, reason?]
//	registerListener [id]                  -> no_result, then one ok result per event
//	listClients      []                    -> [id...]
func (d *Dispatcher) Execute(action string, args Args, cb Callback) bool {
	var res Result

	switch action {
	case ActionConnect:
		res = d.connect(args)
	case ActionSend:
		res = d.send(args)
	case ActionClose:
		res = d.close(args)
	case ActionRegisterListener:
		res = d.registerListener(args, cb)
	case ActionListClients:
		res = success(d.registry.ListClients())
	default:
		d.logger.Warnf("unknown action %q", action)
		d.reply(cb, failure("Unknown action: "+action))
		return false
	}

	d.reply(cb, res)
	return true
}

func (d *Dispatcher) connect(args Args) Result {
	req := wsbridge.ConnectRequest{
		URL:              args.OptString(0, ""),
		Protocols:        args.OptStrings(1),
		Headers:          args.OptStringMap(2),
		BinaryType:       wsbridge.ParseBinaryType(args.OptString(3, "")),
		HandshakeTimeout: time.Duration(args.OptInt(4, 0)) * time.Millisecond,
	}

	id, err := d.registry.Connect(req)
	if err != nil {
		return failure(err.Error())
	}
	return success(id)
}

func (d *Dispatcher) send(args Args) Result {
	if err := d.registry.Send(args.OptString(0, ""), args.OptString(1, "")); err != nil {
		return failure(err.Error())
	}
	return success(nil)
}

func (d *Dispatcher) close(args Args) Result {
	id := args.OptString(0, "")
	code := args.OptInt(1, wsbridge.DefaultCloseCode)
	reason := args.OptString(2, wsbridge.DefaultCloseReason)

	res, err := d.registry.Close(id, code, reason)
	if err != nil {
		return failure(err.Error())
	}

	switch res.Status {
	case wsbridge.CloseInitiated:
		return success(nil)
	case wsbridge.CloseFailed:
		return failure(res.Err.Error())
	default:
		return noResult(false)
	}
}

func (d *Dispatcher) registerListener(args Args, cb Callback) Result {
	sink := callbackSink{cb: cb}
	if err := d.registry.RegisterListener(args.OptString(0, ""), sink); err != nil {
		return failure(err.Error())
	}
	return noResult(true)
}

func (d *Dispatcher) reply(cb Callback, res Result) {
	if err := cb.Send(res); err != nil {
		d.logger.Warnf("cannot deliver %s result: %s", res.Status, err)
	}
}

// callbackSink pushes instance events through a kept callback.
type callbackSink struct {
	cb Callback
}

func (s callbackSink) Push(e wsbridge.Event) error {
	return s.cb.Send(Result{Status: StatusOK, KeepCallback: true, Payload: e})
}
