package websocket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drain вычитывает одно сообщение из канала клиента (или падает по таймауту)
func drain(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(time.Second):
		t.Fatal("сообщение не пришло в канал клиента")
		return nil
	}
}

func TestRegistry_ConnectAndDisconnect(t *testing.T) {
	registry := NewRegistry()
	client := NewClient(nil, "AB12CD", "player-1", "Игрок")

	replaced := registry.Connect(client, false)
	assert.Nil(t, replaced)

	code, ok := registry.SessionOf("player-1")
	require.True(t, ok)
	assert.Equal(t, "AB12CD", code)
	assert.False(t, registry.IsHost("AB12CD", "player-1"))

	assert.True(t, registry.Disconnect(client))
	_, ok = registry.SessionOf("player-1")
	assert.False(t, ok)
	assert.True(t, client.IsSendClosed())

	// Повторный Disconnect того же клиента - no-op
	assert.False(t, registry.Disconnect(client))
}

func TestRegistry_Reconnect_EvictsOldConnection(t *testing.T) {
	registry := NewRegistry()
	first := NewClient(nil, "AB12CD", "player-1", "Игрок")
	second := NewClient(nil, "AB12CD", "player-1", "Игрок")

	registry.Connect(first, false)
	replaced := registry.Connect(second, false)

	// Старое соединение вытеснено и закрыто
	require.NotNil(t, replaced)
	assert.Equal(t, first.ConnectionID, replaced.ConnectionID)
	assert.True(t, first.IsSendClosed())
	assert.False(t, second.IsSendClosed())

	// Disconnect вытесненного соединения не трогает новое
	assert.False(t, registry.Disconnect(first))
	code, ok := registry.SessionOf("player-1")
	require.True(t, ok)
	assert.Equal(t, "AB12CD", code)

	assert.True(t, registry.Disconnect(second))
}

func TestRegistry_SendToUser(t *testing.T) {
	registry := NewRegistry()
	client := NewClient(nil, "AB12CD", "player-1", "Игрок")
	registry.Connect(client, false)

	assert.True(t, registry.SendToUser("AB12CD", "player-1", []byte("hello")))
	assert.Equal(t, []byte("hello"), drain(t, client))

	// Неподключенный пользователь
	assert.False(t, registry.SendToUser("AB12CD", "ghost", []byte("hello")))
}

func TestRegistry_Broadcast_SkipsExcluded(t *testing.T) {
	registry := NewRegistry()
	p1 := NewClient(nil, "AB12CD", "player-1", "Первый")
	p2 := NewClient(nil, "AB12CD", "player-2", "Второй")
	registry.Connect(p1, false)
	registry.Connect(p2, false)

	registry.Broadcast("AB12CD", []byte("msg"), "player-1")

	assert.Equal(t, []byte("msg"), drain(t, p2))
	select {
	case <-p1.send:
		t.Fatal("исключенный пользователь не должен получать сообщение")
	default:
	}
}

func TestRegistry_BroadcastToPlayers_SkipsHost(t *testing.T) {
	registry := NewRegistry()
	host := NewClient(nil, "AB12CD", "host-1", "Хост")
	player := NewClient(nil, "AB12CD", "player-1", "Игрок")
	registry.Connect(host, true)
	registry.Connect(player, false)

	registry.BroadcastToPlayers("AB12CD", []byte("question"))

	assert.Equal(t, []byte("question"), drain(t, player))
	select {
	case <-host.send:
		t.Fatal("хост не должен получать игровую рассылку")
	default:
	}
}

func TestRegistry_CloseSession(t *testing.T) {
	registry := NewRegistry()
	host := NewClient(nil, "AB12CD", "host-1", "Хост")
	player := NewClient(nil, "AB12CD", "player-1", "Игрок")
	registry.Connect(host, true)
	registry.Connect(player, false)

	registry.CloseSession("AB12CD")

	assert.True(t, host.IsSendClosed())
	assert.True(t, player.IsSendClosed())
	_, ok := registry.SessionOf("host-1")
	assert.False(t, ok)
	assert.Empty(t, registry.ConnectedUsers("AB12CD"))
}

func TestClient_Enqueue_AfterClose(t *testing.T) {
	client := NewClient(nil, "AB12CD", "player-1", "Игрок")

	assert.True(t, client.Enqueue([]byte("a"), 0))
	assert.True(t, client.CloseSend())
	// Повторное закрытие - no-op
	assert.False(t, client.CloseSend())
	// Отправка в закрытый канал не паникует
	assert.False(t, client.Enqueue([]byte("b"), 0))
}

func TestClient_Enqueue_FullBufferWithoutTimeout(t *testing.T) {
	client := NewClient(nil, "AB12CD", "player-1", "Игрок")

	for i := 0; i < defaultClientBufferSize; i++ {
		require.True(t, client.Enqueue([]byte("x"), 0))
	}
	// Буфер полон: без таймаута отправка сразу отклоняется
	assert.False(t, client.Enqueue([]byte("x"), 0))
}
