package discovery

import (
	"context"
	"fmt"
	"io"
	"net"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scanner probes a /24 subnet for peer hub instances. Each address gets a
// reachability probe followed, when reachable, by a TCP handshake against the
// hub's health path. Failures of either probe silently exclude the address:
// absence from the result set is the only signal.
type Scanner struct {
	ServicePort int
	HealthPath  string
	Handshake   string

	PingTimeout time.Duration
	DialTimeout time.Duration

	// Ping and Dial are injectable for tests; nil selects the platform
	// defaults (the ping binary and net.DialTimeout).
	Ping func(ctx context.Context, addr string) bool
	Dial func(addr string, timeout time.Duration) (net.Conn, error)

	log *zap.Logger
}

type ScannerParams struct {
	ServicePort int
	HealthPath  string
	Handshake   string
	PingTimeout time.Duration
	DialTimeout time.Duration

	Logger *zap.Logger
}

func CreateScanner(params ScannerParams) *Scanner {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	servicePort := params.ServicePort
	if servicePort == 0 {
		servicePort = 8088
	}
	healthPath := params.HealthPath
	if healthPath == "" {
		healthPath = "/test"
	}
	handshake := params.Handshake
	if handshake == "" {
		handshake = "i am server"
	}
	pingTimeout := params.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 1 * time.Second
	}
	dialTimeout := params.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 600 * time.Millisecond
	}

	return &Scanner{
		ServicePort: servicePort,
		HealthPath:  healthPath,
		Handshake:   handshake,
		PingTimeout: pingTimeout,
		DialTimeout: dialTimeout,
		log:         logger.With(zap.String("component", "DiscoveryScanner")),
	}
}

// ScanSubnet sweeps the 256 addresses of the /24 subnet containing base
// (either a CIDR like "192.168.0.0/24" or a plain address) and returns the
// sorted set of addresses that answered both probes. One goroutine per
// address; the sweep completes only after every probe finishes or times out.
func (s *Scanner) ScanSubnet(ctx context.Context, base string) ([]string, error) {
	prefix, err := subnetPrefix(base)
	if err != nil {
		return nil, err
	}

	var (
		mut   sync.Mutex
		found []string
		wg    sync.WaitGroup
	)

	for i := 0; i <= 255; i++ {
		addr := fmt.Sprintf("%s.%d", prefix, i)

		wg.Add(1)
		go func() {
			defer wg.Done()

			if !s.ping(ctx, addr) {
				return
			}
			if !s.checkPeer(addr) {
				return
			}

			s.log.Debug("Found peer", zap.String("addr", addr))
			mut.Lock()
			found = append(found, addr)
			mut.Unlock()
		}()
	}

	wg.Wait()
	sort.Strings(found)
	return found, nil
}

func subnetPrefix(base string) (string, error) {
	addr := base
	if strings.Contains(base, "/") {
		ip, _, err := net.ParseCIDR(base)
		if err != nil {
			return "", fmt.Errorf("invalid subnet %q: %w", base, err)
		}
		addr = ip.String()
	}

	ip := net.ParseIP(addr)
	if ip == nil || ip.To4() == nil {
		return "", fmt.Errorf("invalid IPv4 base address %q", base)
	}

	octets := ip.To4()
	return fmt.Sprintf("%d.%d.%d", octets[0], octets[1], octets[2]), nil
}

func (s *Scanner) ping(ctx context.Context, addr string) bool {
	if s.Ping != nil {
		return s.Ping(ctx, addr)
	}

	pingCtx, cancel := context.WithTimeout(ctx, s.PingTimeout+time.Second)
	defer cancel()

	out, err := exec.CommandContext(pingCtx, "ping", "-c", "1",
		"-W", fmt.Sprintf("%d", int(s.PingTimeout.Seconds())), addr).Output()
	if err != nil {
		return false
	}
	return strings.Contains(string(out), "1 received")
}

// checkPeer performs the handshake: connect to the service port, send a
// minimal HTTP GET for the health path, and accept only if the response body
// carries the handshake marker.
func (s *Scanner) checkPeer(addr string) bool {
	dial := s.Dial
	if dial == nil {
		dial = func(addr string, timeout time.Duration) (net.Conn, error) {
			return net.DialTimeout("tcp", addr, timeout)
		}
	}

	conn, err := dial(fmt.Sprintf("%s:%d", addr, s.ServicePort), s.DialTimeout)
	if err != nil {
		return false
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(s.DialTimeout + s.PingTimeout))

	request := fmt.Sprintf("GET %s HTTP/1.1\r\nHost: %s\r\nConnection: close\r\n\r\n", s.HealthPath, addr)
	if _, err := conn.Write([]byte(request)); err != nil {
		return false
	}

	response, err := io.ReadAll(conn)
	if err != nil && len(response) == 0 {
		return false
	}

	return strings.Contains(string(response), s.Handshake)
}
