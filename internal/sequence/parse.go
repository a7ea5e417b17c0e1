package sequence

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zsiec/pixseq/internal/timeline"
)

// ErrSyntax is returned by ParseMatrix for malformed input.
var ErrSyntax = errors.New("sequence: malformed matrix")

// SyntaxError records where parsing stopped.
type SyntaxError struct {
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("sequence: malformed matrix at offset %d: %s", e.Offset, e.Msg)
}

func (e *SyntaxError) Unwrap() error {
	return ErrSyntax
}

// ParseMatrix is the inverse of SerializeMatrix.
//
// Tokens are not escaped, so a token ends at the first `",<digits>]` that is
// followed by ',' or ']'. Tokens produced by the default alphabet at up to
// eight bits per channel are at most four symbols long and always parse
// unambiguously.
func ParseMatrix(s string) (timeline.Matrix, error) {
	p := &parser{s: s}
	m, err := p.matrix()
	if err != nil {
		return nil, err
	}
	if p.pos != len(s) {
		return nil, p.errorf("trailing data")
	}
	return m, nil
}

type parser struct {
	s   string
	pos int
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Offset: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) expect(c byte) error {
	if p.pos >= len(p.s) || p.s[p.pos] != c {
		return p.errorf("expected %q", c)
	}
	p.pos++
	return nil
}

func (p *parser) peek() byte {
	if p.pos >= len(p.s) {
		return 0
	}
	return p.s[p.pos]
}

// list parses '[' item (',' item)* ']' or '[]'.
func (p *parser) list(item func() error) error {
	if err := p.expect('['); err != nil {
		return err
	}
	if p.peek() == ']' {
		p.pos++
		return nil
	}
	for {
		if err := item(); err != nil {
			return err
		}
		switch p.peek() {
		case ',':
			p.pos++
		case ']':
			p.pos++
			return nil
		default:
			return p.errorf("expected ',' or ']'")
		}
	}
}

func (p *parser) matrix() (timeline.Matrix, error) {
	m := timeline.Matrix{}
	err := p.list(func() error {
		row, err := p.row()
		if err != nil {
			return err
		}
		m = append(m, row)
		return nil
	})
	return m, err
}

func (p *parser) row() (timeline.PixelTimeline, error) {
	var pt timeline.PixelTimeline
	err := p.list(func() error {
		e, err := p.event()
		if err != nil {
			return err
		}
		pt = append(pt, e)
		return nil
	})
	return pt, err
}

func (p *parser) event() (timeline.PixelEvent, error) {
	var e timeline.PixelEvent
	if !strings.HasPrefix(p.s[p.pos:], `["`) {
		return e, p.errorf(`expected '["'`)
	}
	p.pos += 2
	start := p.pos

	// The shortest non-empty token whose closing quote is followed by a
	// complete duration and a list delimiter wins.
	for end := start + 1; end < len(p.s); end++ {
		if p.s[end] != '"' {
			continue
		}
		dur, next, ok := scanDuration(p.s, end+1)
		if !ok {
			continue
		}
		e.Color = timeline.ColorToken(p.s[start:end])
		e.Duration = dur
		p.pos = next
		return e, nil
	}
	return e, p.errorf("unterminated event")
}

// maxDurationDigits keeps durations within int64 without overflow checks.
const maxDurationDigits = 18

// scanDuration matches `,<digits>]` at i followed by ',' or ']' and returns
// the duration and the offset just past the closing bracket. Runs of more
// than maxDurationDigits digits never match.
func scanDuration(s string, i int) (int, int, bool) {
	if i >= len(s) || s[i] != ',' {
		return 0, 0, false
	}
	i++
	n, digits := 0, 0
	for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		n = n*10 + int(s[i]-'0')
		if digits++; digits > maxDurationDigits {
			return 0, 0, false
		}
	}
	if digits == 0 || i >= len(s) || s[i] != ']' {
		return 0, 0, false
	}
	i++
	if i >= len(s) || (s[i] != ',' && s[i] != ']') {
		return 0, 0, false
	}
	return n, i, true
}
