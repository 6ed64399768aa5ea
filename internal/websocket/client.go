package websocket

import (
	"bytes"
	"fmt"
	"log"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Время, которое разрешено писать сообщение клиенту.
	writeWait = 10 * time.Second

	// Время, которое разрешено клиенту читать следующее сообщение.
	pongWait = 30 * time.Second

	// Периодичность отправки ping-сообщений клиенту.
	pingPeriod = (pongWait * 9) / 10

	// Жесткий предел размера входящего фрейма.
	// Мягкий лимит (10KB) проверяет шлюз на уровне сообщений.
	maxMessageSize = 64 * 1024

	// Размер буфера канала отправки сообщений клиенту
	defaultClientBufferSize = 128
)

var (
	newline = []byte{'\n'}
	space   = []byte{' '}
)

// Client является посредником между WebSocket соединением и реестром сессий.
type Client struct {
	// ID пользователя
	UserID string

	// Отображаемое имя (из query-параметров подключения)
	Username string

	// Код сессии, к которой привязано соединение
	SessionCode string

	// Уникальный ID для каждого соединения
	ConnectionID string

	// WebSocket соединение
	conn *websocket.Conn

	// Буферизованный канал для исходящих сообщений
	send chan []byte

	// Флаг, указывающий что канал send закрыт (для предотвращения panic)
	sendClosed atomic.Bool

	// Время последней активности клиента
	lastActivity time.Time
}

// NewClient создает нового клиента
func NewClient(conn *websocket.Conn, sessionCode, userID, username string) *Client {
	return &Client{
		UserID:       userID,
		Username:     username,
		SessionCode:  sessionCode,
		ConnectionID: uuid.New().String(),
		conn:         conn,
		send:         make(chan []byte, defaultClientBufferSize),
		lastActivity: time.Now(),
	}
}

// Enqueue кладет сообщение в канал отправки с таймаутом ожидания.
// Возвращает false, если канал закрыт или переполнен дольше таймаута -
// реестр трактует это как мертвое соединение.
func (c *Client) Enqueue(message []byte, timeout time.Duration) (ok bool) {
	if c.sendClosed.Load() {
		return false
	}
	// Канал может закрыться между проверкой и отправкой
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	if timeout <= 0 {
		select {
		case c.send <- message:
			return true
		default:
			return false
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case c.send <- message:
		return true
	case <-timer.C:
		return false
	}
}

// CloseSend безопасно закрывает канал send (только один раз).
// Возвращает true, если канал был закрыт этим вызовом.
func (c *Client) CloseSend() bool {
	if c.sendClosed.CompareAndSwap(false, true) {
		close(c.send)
		return true
	}
	return false
}

// IsSendClosed проверяет, закрыт ли канал send
func (c *Client) IsSendClosed() bool {
	return c.sendClosed.Load()
}

// StartPumps запускает горутины чтения и записи.
// onDisconnect вызывается ровно один раз после остановки читающей горутины.
func (c *Client) StartPumps(messageHandler func(message []byte, client *Client) error, onDisconnect func(client *Client)) {
	go c.writePump()
	go c.readPump(messageHandler, onDisconnect)
}

// readPump читает сообщения от клиента и передает их обработчику
func (c *Client) readPump(messageHandler func(message []byte, client *Client) error, onDisconnect func(client *Client)) {
	defer func() {
		log.Printf("[WS] Read pump STOPPED (session: %s, user: %s, conn: %s)", c.SessionCode, c.UserID, c.ConnectionID)
		if onDisconnect != nil {
			onDisconnect(c)
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.lastActivity = time.Now()
		return nil
	})

	log.Printf("[WS] Read pump STARTED (session: %s, user: %s, conn: %s)", c.SessionCode, c.UserID, c.ConnectionID)

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[WS] Connection closed normally (user: %s, conn: %s): %v", c.UserID, c.ConnectionID, err)
			} else {
				log.Printf("[WS] Read error (user: %s, conn: %s): %v", c.UserID, c.ConnectionID, err)
			}
			break
		}

		c.lastActivity = time.Now()

		// Безопасный вызов обработчика с recover
		if handlerErr := safeHandleMessage(message, c, messageHandler); handlerErr != nil {
			log.Printf("[WS] Handler error (user: %s, conn: %s): %v. Closing connection.", c.UserID, c.ConnectionID, handlerErr)
			break
		}
	}
}

// safeHandleMessage - обертка для вызова обработчика с recover.
// Паника в обработчике не роняет процесс, а закрывает одно соединение.
func safeHandleMessage(message []byte, client *Client, messageHandler func(message []byte, client *Client) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("PANIC recovered in message handler (user: %s, conn: %s). Panic: %v\nStack trace:\n%s",
				client.UserID, client.ConnectionID, r, string(debug.Stack()))
			err = fmt.Errorf("panic recovered: %v", r)
		}
	}()
	message = bytes.TrimSpace(bytes.Replace(message, newline, space, -1))
	if messageHandler != nil {
		err = messageHandler(message, client)
	} else {
		log.Printf("Warning: no message handler registered for client %s", client.UserID)
	}
	return err
}

// writePump отправляет сообщения клиенту из канала send
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		log.Printf("[WS] Write pump STOPPED (session: %s, user: %s, conn: %s)", c.SessionCode, c.UserID, c.ConnectionID)
	}()

	log.Printf("[WS] Write pump STARTED (session: %s, user: %s, conn: %s)", c.SessionCode, c.UserID, c.ConnectionID)

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Printf("[WS] SetWriteDeadline error (user: %s, conn: %s): %v", c.UserID, c.ConnectionID, err)
				return
			}

			if !ok {
				// Канал send закрыт реестром
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				log.Printf("[WS] NextWriter error (user: %s, conn: %s): %v", c.UserID, c.ConnectionID, err)
				return
			}

			if _, err := w.Write(message); err != nil {
				log.Printf("[WS] Write error (user: %s, conn: %s): %v", c.UserID, c.ConnectionID, err)
			}

			if err := w.Close(); err != nil {
				log.Printf("[WS] Writer close error (user: %s, conn: %s): %v", c.UserID, c.ConnectionID, err)
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Printf("[WS] SetWriteDeadline (ping) error (user: %s, conn: %s): %v", c.UserID, c.ConnectionID, err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("[WS] Ping error (user: %s, conn: %s): %v", c.UserID, c.ConnectionID, err)
				return
			}
		}
	}
}
