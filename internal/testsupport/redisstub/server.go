// Package redisstub runs a minimal in-process RESP server that understands
// the set commands used by the Redis grant store.
package redisstub

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
)

type Options struct {
	Password string
}

type Server struct {
	opts     Options
	listener net.Listener
	addr     string
	mu       sync.Mutex
	sets     map[string]map[string]struct{}
	commands map[string]int
	closed   chan struct{}
}

func Start(opts Options) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	server := &Server{
		opts:     opts,
		listener: ln,
		addr:     ln.Addr().String(),
		sets:     make(map[string]map[string]struct{}),
		commands: make(map[string]int),
		closed:   make(chan struct{}),
	}
	go server.serve()
	return server, nil
}

func (s *Server) Addr() string {
	return s.addr
}

// CommandCount reports how many times cmd was received.
func (s *Server) CommandCount(cmd string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commands[strings.ToUpper(cmd)]
}

// Members returns the sorted members of the set stored at key.
func (s *Server) Members(key string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	members := make([]string, 0, len(s.sets[key]))
	for member := range s.sets[key] {
		members = append(members, member)
	}
	sort.Strings(members)
	return members
}

func (s *Server) Close() error {
	s.mu.Lock()
	select {
	case <-s.closed:
		s.mu.Unlock()
		return nil
	default:
	}
	close(s.closed)
	s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	return nil
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			continue
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	authenticated := s.opts.Password == ""
	for {
		args, err := readArray(reader)
		if err != nil {
			return
		}
		if len(args) == 0 {
			if err := writeError(writer, "ERR wrong number of arguments"); err != nil {
				return
			}
			continue
		}
		cmd := strings.ToUpper(args[0])
		s.mu.Lock()
		s.commands[cmd]++
		s.mu.Unlock()

		var werr error
		switch cmd {
		case "PING":
			werr = writeSimpleString(writer, "PONG")
		case "HELLO":
			werr = writeError(writer, "ERR unknown command 'HELLO'")
		case "AUTH":
			if len(args) < 2 || len(args) > 3 {
				werr = writeError(writer, "ERR wrong number of arguments for 'auth'")
				break
			}
			candidate := args[len(args)-1]
			if s.opts.Password == "" || candidate == s.opts.Password {
				authenticated = true
				werr = writeSimpleString(writer, "OK")
			} else {
				werr = writeError(writer, "WRONGPASS invalid username-password pair")
			}
		case "SELECT", "CLIENT":
			werr = writeSimpleString(writer, "OK")
		case "QUIT":
			_ = writeSimpleString(writer, "OK")
			return
		default:
			if !authenticated {
				werr = writeError(writer, "NOAUTH Authentication required.")
				break
			}
			werr = s.dispatch(writer, cmd, args[1:])
		}
		if werr != nil {
			return
		}
	}
}

func (s *Server) dispatch(writer *bufio.Writer, cmd string, args []string) error {
	switch cmd {
	case "SADD":
		if len(args) < 2 {
			return writeError(writer, "ERR wrong number of arguments for 'sadd'")
		}
		s.mu.Lock()
		set := s.sets[args[0]]
		if set == nil {
			set = make(map[string]struct{})
			s.sets[args[0]] = set
		}
		var added int64
		for _, member := range args[1:] {
			if _, ok := set[member]; !ok {
				set[member] = struct{}{}
				added++
			}
		}
		s.mu.Unlock()
		return writeInteger(writer, added)
	case "SISMEMBER":
		if len(args) != 2 {
			return writeError(writer, "ERR wrong number of arguments for 'sismember'")
		}
		s.mu.Lock()
		_, ok := s.sets[args[0]][args[1]]
		s.mu.Unlock()
		if ok {
			return writeInteger(writer, 1)
		}
		return writeInteger(writer, 0)
	case "DEL":
		s.mu.Lock()
		var removed int64
		for _, key := range args {
			if _, ok := s.sets[key]; ok {
				delete(s.sets, key)
				removed++
			}
		}
		s.mu.Unlock()
		return writeInteger(writer, removed)
	default:
		return writeError(writer, fmt.Sprintf("ERR unknown command '%s'", strings.ToLower(cmd)))
	}
}

func readArray(r *bufio.Reader) ([]string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if prefix != '*' {
		return nil, fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, length)
	for i := 0; i < length; i++ {
		arg, err := readBulkString(r)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return args, nil
}

func readLength(r *bufio.Reader) (int, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return 0, err
	}
	line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
	return strconv.Atoi(line)
}

func readBulkString(r *bufio.Reader) (string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	if prefix != '$' {
		return "", fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return "", err
	}
	if length < 0 {
		return "", nil
	}
	buf := make([]byte, length+2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf[:length]), nil
}

func writeSimpleString(w *bufio.Writer, value string) error {
	if _, err := fmt.Fprintf(w, "+%s\r\n", value); err != nil {
		return err
	}
	return w.Flush()
}

func writeInteger(w *bufio.Writer, value int64) error {
	if _, err := fmt.Fprintf(w, ":%d\r\n", value); err != nil {
		return err
	}
	return w.Flush()
}

func writeError(w *bufio.Writer, msg string) error {
	if _, err := fmt.Fprintf(w, "-%s\r\n", msg); err != nil {
		return err
	}
	return w.Flush()
}
