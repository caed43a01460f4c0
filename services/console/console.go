// services/console/console.go

// Package console is a line-oriented command shell over any byte
// stream (stdin on host, a UART on MCU builds). Each line is tokenized
// and turned into a dali/control request; replies print back on the
// same stream.
//
//	arc <addr|all> <level>
//	cmd <addr|all> <number>
//	special <opcode> [value]
//	commission [start] [new]
//	power on|off
//	status
package console

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"strings"
	"time"

	"dalicode-go/bus"
	"dalicode-go/types"

	"github.com/google/shlex"
)

// replyTimeout bounds how long a console command waits on the gateway.
const replyTimeout = 2 * time.Second

func timeoutC() <-chan time.Time { return time.After(replyTimeout) }

type Service struct {
	conn *bus.Connection
	out  io.Writer

	respSeq int
}

// Run reads commands from r until ctx is cancelled or r is exhausted.
func Run(ctx context.Context, conn *bus.Connection, r io.Reader, w io.Writer) {
	s := &Service{conn: conn, out: w}

	lines := make(chan string, 4)
	go func() {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	s.print("dali console ready")
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			s.handleLine(line)
		}
	}
}

func (s *Service) handleLine(line string) {
	args, err := shlex.Split(line)
	if err != nil {
		s.print("parse error: " + err.Error())
		return
	}
	if len(args) == 0 {
		return
	}

	switch args[0] {
	case "arc":
		if len(args) != 3 {
			s.print("usage: arc <addr|all> <level>")
			return
		}
		addr, typ, ok := parseAddress(args[1])
		level, ok2 := parseByte(args[2])
		if !ok || !ok2 {
			s.print("bad address or level")
			return
		}
		s.request("arc", types.DaliArcRequest{Address: addr, Value: level, Type: typ})

	case "cmd":
		if len(args) != 3 {
			s.print("usage: cmd <addr|all> <number>")
			return
		}
		addr, typ, ok := parseAddress(args[1])
		num, ok2 := parseByte(args[2])
		if !ok || !ok2 {
			s.print("bad address or command")
			return
		}
		s.request("cmd", types.DaliCmdRequest{Address: addr, Command: num, Type: typ})

	case "special":
		if len(args) < 2 || len(args) > 3 {
			s.print("usage: special <opcode> [value]")
			return
		}
		op, ok := parseUint(args[1], 16)
		var val uint8
		ok2 := true
		if len(args) == 3 {
			val, ok2 = parseByte(args[2])
		}
		if !ok || !ok2 {
			s.print("bad opcode or value")
			return
		}
		s.request("special", types.DaliSpecialRequest{Command: uint16(op), Value: val})

	case "commission":
		var req types.DaliCommissionRequest
		for _, a := range args[1:] {
			if a == "new" {
				req.OnlyNew = true
			} else if v, ok := parseByte(a); ok {
				req.Start = v
			} else {
				s.print("usage: commission [start] [new]")
				return
			}
		}
		s.request("commission", req)

	case "power":
		if len(args) != 2 || (args[1] != "on" && args[1] != "off") {
			s.print("usage: power on|off")
			return
		}
		s.request("power", types.DaliPowerRequest{On: args[1] == "on"})

	case "status":
		s.request("status", nil)

	default:
		s.print("unknown command: " + args[0])
	}
}

// request publishes a control message and prints the reply.
func (s *Service) request(verb string, payload any) {
	s.respSeq++
	replyTo := bus.T("console", "resp", s.respSeq)
	sub := s.conn.Subscribe(replyTo)
	defer s.conn.Unsubscribe(sub)

	s.conn.Publish(&bus.Message{
		Topic:   bus.T("dali", "control", verb),
		Payload: payload,
		ReplyTo: replyTo,
	})

	select {
	case resp := <-sub.Channel():
		s.printReply(resp.Payload)
	case <-timeoutC():
		s.print("no reply from dali service")
	}
}

func (s *Service) printReply(p any) {
	m, ok := p.(map[string]any)
	if !ok {
		s.print("reply: ?")
		return
	}
	if okv, _ := m["ok"].(bool); !okv {
		e, _ := m["error"].(string)
		s.print("error: " + e)
		return
	}
	if resp, present := m["response"]; present {
		if resp == nil {
			s.print("ok (no reply)")
		} else {
			s.print("ok, response " + itoa(resp))
		}
		return
	}
	s.print("ok")
}

func (s *Service) print(line string) {
	if s.out == nil {
		return
	}
	_, _ = io.WriteString(s.out, line+"\r\n")
}

// parseAddress accepts a short address, gNN for a group, or all.
func parseAddress(tok string) (uint8, string, bool) {
	if tok == "all" {
		return 0xFF, "broadcast", true
	}
	if strings.HasPrefix(tok, "g") {
		if v, ok := parseByte(tok[1:]); ok && v < 16 {
			return v, "group", true
		}
		return 0, "", false
	}
	if v, ok := parseByte(tok); ok && v < 64 {
		return v, "short", true
	}
	return 0, "", false
}

func parseByte(tok string) (uint8, bool) {
	v, ok := parseUint(tok, 8)
	return uint8(v), ok
}

func parseUint(tok string, bits int) (uint64, bool) {
	v, err := strconv.ParseUint(tok, 0, bits)
	return v, err == nil
}

func itoa(v any) string {
	switch n := v.(type) {
	case int:
		return strconv.Itoa(n)
	case int64:
		return strconv.FormatInt(n, 10)
	case float64:
		return strconv.FormatInt(int64(n), 10)
	default:
		return "?"
	}
}
