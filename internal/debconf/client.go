// Package debconf speaks the debconf configuration-question protocol and
// provides the question Store used throughout the installer.
//
// The protocol is line oriented: the client writes a command line, the
// frontend answers with a numeric status code followed by an optional value.
package debconf

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// Status codes returned by a debconf frontend.
const (
	CodeSuccess     = 0
	CodeEscaped     = 1
	CodeBadParams   = 10
	CodeSyntaxError = 20
	CodeGoBack      = 30
	CodeInternal    = 100
)

// ErrNotFound reports a question that does not exist.
var ErrNotFound = errors.New("debconf question not found")

// ErrGoBack is matched by errors the frontend returned with code 30. For
// PROGRESS commands this means the user cancelled.
var ErrGoBack = errors.New("debconf frontend requested backup")

// Error is a non-success response from the frontend.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("debconf error %d: %s", e.Code, e.Message)
}

// Is lets errors.Is match ErrNotFound and ErrGoBack by code.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Code == CodeBadParams && strings.Contains(e.Message, "doesn't exist")
	case ErrGoBack:
		return e.Code == CodeGoBack
	}
	return false
}

// Client is a debconf protocol client. It is safe for concurrent use; each
// command is a strict request/response pair.
type Client struct {
	mu sync.Mutex
	r  *bufio.Reader
	w  io.Writer
}

// NewClient creates a client reading responses from r and writing commands
// to w. For a program started by a debconf frontend these are os.Stdin and
// os.Stdout.
func NewClient(r io.Reader, w io.Writer) *Client {
	return &Client{r: bufio.NewReader(r), w: w}
}

// Command sends one command and returns the response value.
func (c *Client) Command(command string, args ...string) (string, error) {
	line := command
	if len(args) > 0 {
		line += " " + strings.Join(args, " ")
	}
	if strings.ContainsAny(line, "\n") {
		return "", &Error{Code: CodeSyntaxError, Message: fmt.Sprintf("%s: argument contains a newline", command)}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := io.WriteString(c.w, line+"\n"); err != nil {
		return "", fmt.Errorf("sending %s: %w", command, err)
	}
	resp, err := c.r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return "", fmt.Errorf("reading %s response: %w", command, err)
	}
	return parseResponse(strings.TrimRight(resp, "\r\n"))
}

func parseResponse(resp string) (string, error) {
	codeStr, value, _ := strings.Cut(resp, " ")
	code, err := strconv.Atoi(codeStr)
	if err != nil {
		return "", fmt.Errorf("malformed debconf response %q", resp)
	}
	switch code {
	case CodeSuccess:
		return value, nil
	case CodeEscaped:
		return Unescape(value), nil
	default:
		return "", &Error{Code: code, Message: value}
	}
}

// Unescape decodes a value sent with status code 1.
func Unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			switch s[i] {
			case 'n':
				b.WriteByte('\n')
			default:
				b.WriteByte(s[i])
			}
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// Get returns the value of question q.
func (c *Client) Get(q string) (string, error) {
	return c.Command("GET", q)
}

// Set stores value as the answer to q.
func (c *Client) Set(q, value string) error {
	_, err := c.Command("SET", q, value)
	return err
}

// Subst sets a substitution variable on template.
func (c *Client) Subst(template, key, value string) error {
	_, err := c.Command("SUBST", template, key, value)
	return err
}

// Fset sets a flag (for example "seen") on question q.
func (c *Client) Fset(q, flag, value string) error {
	_, err := c.Command("FSET", q, flag, value)
	return err
}

// Progress sends a PROGRESS subcommand.
func (c *Client) Progress(sub string, args ...string) error {
	_, err := c.Command("PROGRESS", append([]string{sub}, args...)...)
	return err
}

// Stop tells the frontend the client is done.
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := io.WriteString(c.w, "STOP\n")
	return err
}
