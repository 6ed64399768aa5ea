package websocket

import (
	"log"
	"sync"
	"time"
)

// Таймаут постановки сообщения в очередь одного клиента при рассылке.
// Клиент, не принявший сообщение за это время, считается мертвым.
const sendTimeout = 5 * time.Second

// Registry хранит активные WebSocket-соединения по сессиям.
// Один реестр обслуживает весь процесс; все структуры защищены одним мьютексом -
// операции короткие (сетевой ввод-вывод выполняется вне блокировки).
type Registry struct {
	mu sync.Mutex

	// sessions: код сессии -> (user_id -> клиент)
	sessions map[string]map[string]*Client

	// users: user_id -> код сессии (одно активное соединение на пользователя)
	users map[string]string

	// roles: код сессии -> (user_id -> является ли хостом)
	roles map[string]map[string]bool
}

// NewRegistry создает пустой реестр соединений
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]map[string]*Client),
		users:    make(map[string]string),
		roles:    make(map[string]map[string]bool),
	}
}

// Connect привязывает соединение к сессии. Если у пользователя уже было
// соединение, старое отвязывается и его канал закрывается (reconnect).
// Возвращает вытесненного клиента (nil, если его не было).
func (r *Registry) Connect(client *Client, isHost bool) *Client {
	r.mu.Lock()

	var replaced *Client
	if oldCode, ok := r.users[client.UserID]; ok {
		if clients, ok := r.sessions[oldCode]; ok {
			if old, ok := clients[client.UserID]; ok && old != client {
				replaced = old
				delete(clients, client.UserID)
			}
		}
	}

	if r.sessions[client.SessionCode] == nil {
		r.sessions[client.SessionCode] = make(map[string]*Client)
	}
	if r.roles[client.SessionCode] == nil {
		r.roles[client.SessionCode] = make(map[string]bool)
	}
	r.sessions[client.SessionCode][client.UserID] = client
	r.users[client.UserID] = client.SessionCode
	r.roles[client.SessionCode][client.UserID] = isHost

	r.mu.Unlock()

	if replaced != nil {
		replaced.CloseSend()
		log.Printf("[Registry] Переподключение пользователя %s: старое соединение %s вытеснено", client.UserID, replaced.ConnectionID)
	}
	return replaced
}

// Disconnect отвязывает соединение от сессии.
// Если в реестре уже другое соединение этого пользователя (reconnect успел
// раньше), ничего не делает и возвращает false.
func (r *Registry) Disconnect(client *Client) bool {
	r.mu.Lock()

	clients, ok := r.sessions[client.SessionCode]
	if !ok || clients[client.UserID] != client {
		r.mu.Unlock()
		return false
	}

	delete(clients, client.UserID)
	delete(r.users, client.UserID)
	if roles, ok := r.roles[client.SessionCode]; ok {
		delete(roles, client.UserID)
		if len(roles) == 0 {
			delete(r.roles, client.SessionCode)
		}
	}
	if len(clients) == 0 {
		delete(r.sessions, client.SessionCode)
	}

	r.mu.Unlock()

	client.CloseSend()
	return true
}

// IsHost проверяет роль подключенного пользователя в сессии
func (r *Registry) IsHost(sessionCode, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if roles, ok := r.roles[sessionCode]; ok {
		return roles[userID]
	}
	return false
}

// SessionOf возвращает код сессии, к которой подключен пользователь
func (r *Registry) SessionOf(userID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	code, ok := r.users[userID]
	return code, ok
}

// ConnectedUsers возвращает ID подключенных пользователей сессии
func (r *Registry) ConnectedUsers(sessionCode string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	clients := r.sessions[sessionCode]
	users := make([]string, 0, len(clients))
	for userID := range clients {
		users = append(users, userID)
	}
	return users
}

// SendToUser отправляет сообщение одному пользователю сессии.
// Возвращает false, если пользователь не подключен или отправка не удалась.
func (r *Registry) SendToUser(sessionCode, userID string, message []byte) bool {
	r.mu.Lock()
	var client *Client
	if clients, ok := r.sessions[sessionCode]; ok {
		client = clients[userID]
	}
	r.mu.Unlock()

	if client == nil {
		return false
	}
	if !client.Enqueue(message, sendTimeout) {
		log.Printf("[Registry] Не удалось отправить сообщение пользователю %s (сессия %s), соединение отвязывается", userID, sessionCode)
		r.Disconnect(client)
		return false
	}
	return true
}

// Broadcast рассылает сообщение всем подключенным участникам сессии,
// кроме перечисленных в exclude. Рассылка идет параллельно, мертвые
// соединения отвязываются.
func (r *Registry) Broadcast(sessionCode string, message []byte, exclude ...string) {
	r.broadcast(sessionCode, message, false, exclude...)
}

// BroadcastToPlayers рассылает сообщение участникам-игрокам, пропуская хостов
func (r *Registry) BroadcastToPlayers(sessionCode string, message []byte, exclude ...string) {
	r.broadcast(sessionCode, message, true, exclude...)
}

func (r *Registry) broadcast(sessionCode string, message []byte, skipHosts bool, exclude ...string) {
	excluded := make(map[string]bool, len(exclude))
	for _, userID := range exclude {
		excluded[userID] = true
	}

	r.mu.Lock()
	targets := make([]*Client, 0, len(r.sessions[sessionCode]))
	for userID, client := range r.sessions[sessionCode] {
		if excluded[userID] {
			continue
		}
		if skipHosts && r.roles[sessionCode][userID] {
			continue
		}
		targets = append(targets, client)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, client := range targets {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			if !c.Enqueue(message, sendTimeout) {
				log.Printf("[Registry] Рассылка: соединение %s (пользователь %s) не отвечает, отвязываем", c.ConnectionID, c.UserID)
				r.Disconnect(c)
			}
		}(client)
	}
	wg.Wait()
}

// CloseSession закрывает все соединения сессии (например, после quiz_ended)
func (r *Registry) CloseSession(sessionCode string) {
	r.mu.Lock()
	clients := r.sessions[sessionCode]
	targets := make([]*Client, 0, len(clients))
	for _, client := range clients {
		targets = append(targets, client)
	}
	delete(r.sessions, sessionCode)
	delete(r.roles, sessionCode)
	for _, client := range targets {
		delete(r.users, client.UserID)
	}
	r.mu.Unlock()

	for _, client := range targets {
		client.CloseSend()
	}
	if len(targets) > 0 {
		log.Printf("[Registry] Сессия %s закрыта, отключено соединений: %d", sessionCode, len(targets))
	}
}
