package main

import (
	"fmt"
	"os"
	"time"

	"github.com/atsika/tgen"
	"gopkg.in/yaml.v3"
)

// This is a flat action-list + edge-list fixture format, not a GraphML
// parser: a real graph description language is out of scope. It
// exists to drive the CLI from a plain
// text file without inventing an XML grammar.

type fixturePeer struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	Port    uint16 `yaml:"port"`
}

type fixtureStart struct {
	ServerPort        uint16   `yaml:"serverPort"`
	Peers             []string `yaml:"peers"`
	SocksProxy        string   `yaml:"socksProxy"`
	DefaultTimeoutMs  int64    `yaml:"defaultTimeoutMs"`
	DefaultStalloutMs int64    `yaml:"defaultStalloutMs"`
	StartDelayMs      int64    `yaml:"startDelayMs"`
	HeartbeatMs       int64    `yaml:"heartbeatMs"`
	TransferType      string   `yaml:"transferType"`
	WaitTimePoolNs    []int64  `yaml:"waitTimePoolNs"`
	PercentServers    float64  `yaml:"percentServers"`
	EndTimeMs         int64    `yaml:"endTimeMs"`
}

type fixtureTransfer struct {
	Type        string   `yaml:"type"`
	Size        uint64   `yaml:"size"`
	TimeoutMs   int64    `yaml:"timeoutMs"`
	StalloutMs  int64    `yaml:"stalloutMs"`
	SendRateBps int64    `yaml:"sendRateBps"`
	Peers       []string `yaml:"peers"`
}

type fixturePause struct {
	DurationMs int64 `yaml:"durationMs"`
}

type fixtureEnd struct {
	Size  uint64 `yaml:"size"`
	Count uint64 `yaml:"count"`
	TimeMs int64 `yaml:"timeMs"`
}

type fixtureAction struct {
	ID       string           `yaml:"id"`
	Kind     string           `yaml:"kind"`
	Start    *fixtureStart    `yaml:"start,omitempty"`
	Transfer *fixtureTransfer `yaml:"transfer,omitempty"`
	Pause    *fixturePause    `yaml:"pause,omitempty"`
	End      *fixtureEnd      `yaml:"end,omitempty"`
}

type fixture struct {
	Peers   []fixturePeer `yaml:"peers"`
	Actions []fixtureAction `yaml:"actions"`
	Edges   [][2]string   `yaml:"edges"`
}

func loadGraphFile(path string) (*tgen.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph fixture: %w", err)
	}
	var f fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse graph fixture: %w", err)
	}
	return buildGraph(f)
}

func buildGraph(f fixture) (*tgen.Graph, error) {
	byName := make(map[string]*tgen.Peer, len(f.Peers))
	for _, p := range f.Peers {
		peer := tgen.NewPeer(p.Name, p.Address, p.Port)
		byName[p.Name] = peer
	}
	resolvePool := func(names []string) *tgen.Pool {
		if len(names) == 0 {
			return nil
		}
		pool := tgen.NewPool()
		for _, n := range names {
			if p, ok := byName[n]; ok {
				pool.Add(p)
			}
		}
		return pool
	}

	g := tgen.NewGraph()
	for _, fa := range f.Actions {
		action, err := buildAction(fa, byName, resolvePool)
		if err != nil {
			return nil, err
		}
		if err := g.AddAction(fa.ID, action); err != nil {
			return nil, err
		}
	}
	for _, e := range f.Edges {
		if err := g.AddEdge(e[0], e[1]); err != nil {
			return nil, err
		}
	}

	// Pause vertices that act as synchronization barriers need their
	// InDegree filled in after every edge is known.
	for _, fa := range f.Actions {
		if fa.Kind != "pause" || fa.Pause == nil || fa.Pause.DurationMs > 0 {
			continue
		}
		if a, ok := g.Action(fa.ID); ok && a.Pause != nil {
			a.Pause.InDegree = g.InDegree(fa.ID)
		}
	}

	return g, nil
}

func buildAction(fa fixtureAction, byName map[string]*tgen.Peer, resolvePool func([]string) *tgen.Pool) (tgen.Action, error) {
	switch fa.Kind {
	case "start":
		if fa.Start == nil {
			return tgen.Action{}, fmt.Errorf("action %q: kind start requires a start block", fa.ID)
		}
		s := fa.Start
		var proxy *tgen.Peer
		if s.SocksProxy != "" {
			proxy = byName[s.SocksProxy]
		}
		return tgen.Action{
			Kind: tgen.ActionStart,
			Start: &tgen.StartParams{
				ServerPort:        s.ServerPort,
				Peers:             resolvePool(s.Peers),
				SocksProxy:        proxy,
				DefaultTimeout:    time.Duration(s.DefaultTimeoutMs) * time.Millisecond,
				DefaultStallout:   time.Duration(s.DefaultStalloutMs) * time.Millisecond,
				StartDelay:        time.Duration(s.StartDelayMs) * time.Millisecond,
				HeartbeatInterval: time.Duration(s.HeartbeatMs) * time.Millisecond,
				TransferType:      parseTransferType(s.TransferType),
				WaitTimePool:      s.WaitTimePoolNs,
				PercentServers:    s.PercentServers,
				EndTime:           time.Duration(s.EndTimeMs) * time.Millisecond,
			},
		}, nil
	case "transfer":
		if fa.Transfer == nil {
			return tgen.Action{}, fmt.Errorf("action %q: kind transfer requires a transfer block", fa.ID)
		}
		t := fa.Transfer
		return tgen.Action{
			Kind: tgen.ActionTransfer,
			Transfer: &tgen.TransferParams{
				Type:        parseTransferType(t.Type),
				Size:        t.Size,
				Timeout:     time.Duration(t.TimeoutMs) * time.Millisecond,
				Stallout:    time.Duration(t.StalloutMs) * time.Millisecond,
				SendRateBps: t.SendRateBps,
				Peers:       resolvePool(t.Peers),
			},
		}, nil
	case "pause":
		if fa.Pause == nil {
			return tgen.Action{}, fmt.Errorf("action %q: kind pause requires a pause block", fa.ID)
		}
		p := fa.Pause
		return tgen.Action{
			Kind: tgen.ActionPause,
			Pause: &tgen.PauseParams{
				Duration:    time.Duration(p.DurationMs) * time.Millisecond,
				HasDuration: p.DurationMs > 0,
			},
		}, nil
	case "end":
		if fa.End == nil {
			return tgen.Action{}, fmt.Errorf("action %q: kind end requires an end block", fa.ID)
		}
		e := fa.End
		return tgen.Action{
			Kind: tgen.ActionEnd,
			End: &tgen.EndParams{
				Size:  e.Size,
				Count: e.Count,
				Time:  time.Duration(e.TimeMs) * time.Millisecond,
			},
		}, nil
	default:
		return tgen.Action{}, fmt.Errorf("action %q: unknown kind %q", fa.ID, fa.Kind)
	}
}

func parseTransferType(s string) tgen.TransferType {
	switch s {
	case "GET":
		return tgen.TransferGet
	case "PUT":
		return tgen.TransferPut
	case "FORWARD":
		return tgen.TransferForward
	case "FORWARD_SERVE":
		return tgen.TransferForwardServe
	case "FORWARD_RETURN":
		return tgen.TransferForwardReturn
	default:
		return tgen.TransferNone
	}
}
