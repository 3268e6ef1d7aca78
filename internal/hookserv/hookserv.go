// Package hookserv 在回环地址上接收游戏钩子推送的文本事件。
//
// 传输协议刻意保持最简：每个连接承载一条 JSON 消息，发送方写完即关闭
// 写端。消息要么是当前句（type=text），要么是预取列表（type=prefetch），
// 格式错误的负载记日志后丢弃，不产生任何事件。
package hookserv

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	"github.com/nerdneilsfield/go-vntrans/internal/pipeline"
)

const (
	// maxMessageBytes 单条消息的字节上限
	maxMessageBytes = 1 << 20

	// readTimeout 单个连接的读取时限
	readTimeout = 3 * time.Second
)

// Handler 事件处理方
type Handler interface {
	OnCurrentText(speaker, text string, italic bool)
	OnPrefetchList(items []pipeline.Line)
}

// message 钩子消息
type message struct {
	Type    string     `json:"type"`
	Speaker string     `json:"speaker"`
	Text    string     `json:"text"`
	Italic  bool       `json:"italic"`
	Items   []lineItem `json:"items"`
}

type lineItem struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Server 钩子监听服务
// 连接按到达顺序串行处理，保证事件进入处理方的顺序与到达顺序一致。
type Server struct {
	port    int
	enc     encoding.Encoding
	handler Handler
	logger  *zap.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewServer 创建钩子监听服务
// encodingName 描述游戏侧推送文本的编码，空串视为 UTF-8。
func NewServer(port int, encodingName string, handler Handler, logger *zap.Logger) (*Server, error) {
	enc, err := encodingFor(encodingName)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		port:    port,
		enc:     enc,
		handler: handler,
		logger:  logger,
	}, nil
}

// encodingFor 把配置里的编码名映射到解码器
func encodingFor(name string) (encoding.Encoding, error) {
	switch name {
	case "", "utf-8", "utf8":
		return nil, nil
	case "shift-jis", "shift_jis", "sjis":
		return japanese.ShiftJIS, nil
	case "gbk":
		return simplifiedchinese.GBK, nil
	case "gb18030":
		return simplifiedchinese.GB18030, nil
	default:
		return nil, fmt.Errorf("不支持的编码: %s", name)
	}
}

// Serve 监听并处理钩子连接，直到 ctx 取消或监听出错
// 只绑定回环地址，游戏钩子与本进程必须在同一台机器上。
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("监听 %s 失败: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("文本钩子监听已启动", zap.String("addr", listener.Addr().String()))

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.handleConn(conn)
	}
}

// Addr 返回实际监听地址，未启动时为空串
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// handleConn 读取并分发一条消息
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

	data, err := io.ReadAll(io.LimitReader(conn, maxMessageBytes))
	if err != nil {
		s.logger.Warn("读取钩子消息失败", zap.Error(err))
		return
	}
	if len(data) == 0 {
		return
	}

	decoded, err := s.decode(data)
	if err != nil {
		s.logger.Warn("钩子消息转码失败，已丢弃", zap.Error(err))
		return
	}

	var msg message
	if err := json.Unmarshal(decoded, &msg); err != nil {
		s.logger.Warn("钩子消息格式错误，已丢弃",
			zap.Error(err),
			zap.Int("bytes", len(data)))
		return
	}

	switch msg.Type {
	case "text":
		s.handler.OnCurrentText(msg.Speaker, msg.Text, msg.Italic)
	case "prefetch":
		items := make([]pipeline.Line, 0, len(msg.Items))
		for _, item := range msg.Items {
			items = append(items, pipeline.Line{Speaker: item.Speaker, Text: item.Text})
		}
		s.handler.OnPrefetchList(items)
	default:
		s.logger.Warn("未知的钩子消息类型", zap.String("type", msg.Type))
	}
}

// decode 按配置的编码把负载转成 UTF-8
func (s *Server) decode(data []byte) ([]byte, error) {
	if s.enc == nil {
		if !utf8.Valid(data) {
			return nil, fmt.Errorf("payload is not valid UTF-8")
		}
		return data, nil
	}

	res, err := io.ReadAll(transform.NewReader(bytes.NewReader(data), s.enc.NewDecoder()))
	if err != nil {
		return nil, err
	}
	return res, nil
}
