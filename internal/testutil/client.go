package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	mathrand "math/rand/v2"
	"net"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/udisondev/rag2go/internal/channel"
	"github.com/udisondev/rag2go/internal/constants"
	"github.com/udisondev/rag2go/internal/crypto"
	"github.com/udisondev/rag2go/internal/handshake"
	"github.com/udisondev/rag2go/internal/protocol"
)

// ClientOptions задают параметры handshake симулированного клиента.
type ClientOptions struct {
	Version        uint16
	Mode           crypto.Mode
	SessionKeySize int
	// PKCS1v15 шифрует ключ сессии старым padding вместо OAEP-SHA1.
	PKCS1v15 bool
}

// DefaultClientOptions соответствуют настройкам сервера по умолчанию.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		Version:        constants.TestClientVersion,
		Mode:           crypto.ModeAESECB,
		SessionKeySize: constants.SessionKeySize,
	}
}

// ProudClient упрощает написание integration тестов для ProudNet сервера.
// Управляет подключением, handshake, шифрованием и чтением/записью фреймов.
type ProudClient struct {
	t       testing.TB
	conn    net.Conn
	frames  *protocol.FrameBuffer
	readBuf []byte

	// Данные из 0x04
	settings  handshake.Settings
	publicKey *rsa.PublicKey

	sessionKey []byte
	channel    *channel.Channel
	success    handshake.ConnectionSuccess

	// Timeout для операций
	timeout time.Duration
}

// NewProudClient подключается к серверу и читает 0x04 (settings + RSA public key).
// Использует t.Cleanup() для автоматического закрытия соединения.
func NewProudClient(t testing.TB, addr string) (*ProudClient, error) {
	t.Helper()

	// Retry dial с экспоненциальным бэкофф + jitter
	var conn net.Conn
	var err error
	for attempt := range 10 {
		conn, err = net.DialTimeout("tcp", addr, constants.TestIOTimeout)
		if err == nil {
			break
		}
		if attempt < 9 {
			base := time.Duration(20<<min(attempt, 6)) * time.Millisecond
			jitter := time.Duration(mathrand.IntN(int(base/2) + 1))
			time.Sleep(base + jitter)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("dial proudnet server: %w", err)
	}

	// SO_LINGER=0: немедленный RST вместо TIME_WAIT
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetLinger(0); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("set linger: %w", err)
		}
	}

	c := &ProudClient{
		t:       t,
		conn:    conn,
		frames:  protocol.NewFrameBuffer(0),
		readBuf: make([]byte, 4096),
		timeout: constants.TestIOTimeout,
	}
	t.Cleanup(func() {
		_ = c.Close()
	})

	hello, err := c.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("reading handshake: %w", err)
	}
	if hello.Opcode() != constants.OpcodeHandshake {
		return nil, fmt.Errorf("expected 0x04, got 0x%02x", hello.Opcode())
	}

	settings, der, err := handshake.ParseHello(hello.Payload)
	if err != nil {
		return nil, fmt.Errorf("parsing handshake: %w", err)
	}
	pub, err := crypto.ParsePublicKeyDER(der)
	if err != nil {
		return nil, fmt.Errorf("parsing RSA key: %w", err)
	}
	c.settings = settings
	c.publicKey = pub

	return c, nil
}

// Dial подключается и проходит полный handshake с DefaultClientOptions.
func Dial(t testing.TB, addr string) *ProudClient {
	t.Helper()

	c, err := NewProudClient(t, addr)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := c.Handshake(DefaultClientOptions()); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	return c
}

// SendKeyResponse генерирует ключ сессии и отправляет 0x05, ответ не читает.
func (c *ProudClient) SendKeyResponse(opts ClientOptions) error {
	c.sessionKey = make([]byte, opts.SessionKeySize)
	if _, err := rand.Read(c.sessionKey); err != nil {
		return fmt.Errorf("generating session key: %w", err)
	}

	encrypt := crypto.EncryptSessionKey
	if opts.PKCS1v15 {
		encrypt = crypto.EncryptSessionKeyPKCS1v15
	}
	blob, err := encrypt(c.publicKey, c.sessionKey)
	if err != nil {
		return fmt.Errorf("encrypting session key: %w", err)
	}

	payload, err := handshake.BuildKeyResponse(blob)
	if err != nil {
		return err
	}
	if err := c.WriteFrame(payload); err != nil {
		return err
	}

	bc, err := crypto.NewBlockCipher(opts.Mode, c.sessionKey)
	if err != nil {
		return err
	}
	c.channel = channel.New(bc, channel.Options{})
	return nil
}

// SendVersionCheck отправляет 0x07.
func (c *ProudClient) SendVersionCheck(version uint16) error {
	return c.WriteFrame(handshake.BuildVersionCheck(handshake.VersionCheck{
		Version:    version,
		ClientGUID: uuid.New(),
	}))
}

// Handshake проходит 0x05 → 0x06 → 0x07 → 0x0A.
func (c *ProudClient) Handshake(opts ClientOptions) error {
	if err := c.SendKeyResponse(opts); err != nil {
		return err
	}
	ack, err := c.ReadFrame()
	if err != nil {
		return fmt.Errorf("reading 0x06: %w", err)
	}
	if ack.Opcode() != constants.OpcodeHandshakeAck {
		return fmt.Errorf("expected 0x06, got 0x%02x", ack.Opcode())
	}

	if err := c.SendVersionCheck(opts.Version); err != nil {
		return err
	}
	frame, err := c.ReadFrame()
	if err != nil {
		return fmt.Errorf("reading 0x0A: %w", err)
	}
	success, err := handshake.ParseConnectionSuccess(frame.Payload)
	if err != nil {
		return err
	}
	c.success = success
	return nil
}

// HostID возвращает host id из 0x0A.
func (c *ProudClient) HostID() uint32 {
	return c.success.HostID
}

// Success возвращает разобранный 0x0A.
func (c *ProudClient) Success() handshake.ConnectionSuccess {
	return c.success
}

// Settings возвращает settings из 0x04.
func (c *ProudClient) Settings() handshake.Settings {
	return c.settings
}

// SetTimeout изменяет timeout для операций чтения/записи.
func (c *ProudClient) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// WriteRaw пишет байты в сокет как есть.
func (c *ProudClient) WriteRaw(b []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	_, err := c.conn.Write(b)
	return err
}

// WriteFrame оборачивает payload во фрейм и отправляет.
func (c *ProudClient) WriteFrame(payload []byte) error {
	return c.WriteRaw(protocol.Encode(payload))
}

// Heartbeat отправляет 0x1B и ждёт 0x1D, возвращая эхо sequence.
func (c *ProudClient) Heartbeat(seq uint16) (uint16, error) {
	if err := c.WriteFrame(protocol.BuildHeartbeat(seq)); err != nil {
		return 0, err
	}
	frame, err := c.ReadFrame()
	if err != nil {
		return 0, err
	}
	if frame.Opcode() != constants.OpcodeHeartbeatAck {
		return 0, fmt.Errorf("expected 0x1D, got 0x%02x", frame.Opcode())
	}
	if len(frame.Payload) != constants.HeartbeatAckSize {
		return 0, fmt.Errorf("heartbeat ack has %d bytes", len(frame.Payload))
	}
	return protocol.HeartbeatSeq(frame.Payload), nil
}

// Seal шифрует сообщение в payload конверта, вложенного depth раз.
func (c *ProudClient) Seal(depth int, opcode uint16, payload []byte) ([]byte, error) {
	if c.channel == nil {
		return nil, errors.New("no session key")
	}

	plain := binary.LittleEndian.AppendUint16(nil, opcode)
	plain = append(plain, payload...)

	env, err := c.channel.Seal(plain)
	if err != nil {
		return nil, err
	}
	for range depth - 1 {
		if env, err = c.channel.Seal(protocol.Encode(env)); err != nil {
			return nil, err
		}
	}
	return env, nil
}

// SendMessage шифрует и отправляет application message.
func (c *ProudClient) SendMessage(opcode uint16, payload []byte) error {
	env, err := c.Seal(1, opcode, payload)
	if err != nil {
		return err
	}
	return c.WriteFrame(env)
}

// ReadMessage читает следующий конверт и возвращает расшифрованное сообщение.
// Control-фреймы между ними пропускаются.
func (c *ProudClient) ReadMessage() (uint16, []byte, error) {
	for {
		frame, err := c.ReadFrame()
		if err != nil {
			return 0, nil, err
		}
		if !channel.IsEnvelope(frame.Opcode()) {
			continue
		}

		plain, err := c.channel.Open(frame.Payload)
		if err != nil {
			return 0, nil, err
		}
		if len(plain) < constants.AppOpcodeSize {
			return 0, nil, fmt.Errorf("message too short: %d bytes", len(plain))
		}
		return binary.LittleEndian.Uint16(plain), plain[constants.AppOpcodeSize:], nil
	}
}

// ReadFrame читает один полный фрейм.
func (c *ProudClient) ReadFrame() (protocol.Frame, error) {
	for {
		frame, ok, err := c.frames.Next()
		if err != nil {
			return protocol.Frame{}, err
		}
		if ok {
			return frame, nil
		}

		n, err := c.read()
		if n > 0 {
			c.frames.Feed(c.readBuf[:n])
			continue
		}
		if err != nil {
			return protocol.Frame{}, err
		}
	}
}

// ReadRaw читает ровно n байт мимо frame decoder (flash policy отвечается без фрейма).
func (c *ProudClient) ReadRaw(n int) ([]byte, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, fmt.Errorf("setting read deadline: %w", err)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ExpectClosed читает до закрытия соединения сервером.
// Возвращает ошибку, если за timeout соединение осталось открытым.
func (c *ProudClient) ExpectClosed(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("setting read deadline: %w", err)
	}
	for {
		_, err := c.conn.Read(c.readBuf)
		if err == nil {
			continue
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return fmt.Errorf("connection still open after %v", timeout)
		}
		return nil
	}
}

func (c *ProudClient) read() (int, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, fmt.Errorf("setting read deadline: %w", err)
	}
	return c.conn.Read(c.readBuf)
}

// Close закрывает соединение.
func (c *ProudClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
