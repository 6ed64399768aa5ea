package websocket

import "encoding/json"

// Входящие типы сообщений (клиент -> сервер)
const (
	// MsgJoin - вход в сессию (или переподключение)
	MsgJoin = "join"

	// MsgStartQuiz - запуск викторины (только хост)
	MsgStartQuiz = "start_quiz"

	// MsgSubmitAnswer - отправка ответа на вопрос
	MsgSubmitAnswer = "submit_answer"

	// MsgNextQuestion - принудительный переход к следующему вопросу (только хост)
	MsgNextQuestion = "next_question"

	// MsgRequestNextQuestion - запрос своего следующего вопроса (самостоятельный темп)
	MsgRequestNextQuestion = "request_next_question"

	// MsgEndQuiz - досрочное завершение сессии (только хост)
	MsgEndQuiz = "end_quiz"

	// MsgRequestLeaderboard - явный запрос таблицы лидеров
	MsgRequestLeaderboard = "request_leaderboard"

	// MsgPing - прикладной ping
	MsgPing = "ping"
)

// Исходящие типы сообщений (сервер -> клиент)
const (
	// MsgSessionState - полное состояние сессии после join
	MsgSessionState = "session_state"

	// MsgSessionUpdate - изменение состава участников
	MsgSessionUpdate = "session_update"

	// MsgQuizStarted - викторина запущена
	MsgQuizStarted = "quiz_started"

	// MsgQuestion - очередной вопрос
	MsgQuestion = "question"

	// MsgAnswerResult - результат проверки ответа
	MsgAnswerResult = "answer_result"

	// MsgLeaderboardUpdate - рассылка таблицы лидеров
	MsgLeaderboardUpdate = "leaderboard_update"

	// MsgLeaderboardResponse - ответ на явный запрос таблицы лидеров
	MsgLeaderboardResponse = "leaderboard_response"

	// MsgQuizCompleted - участник прошел все вопросы
	MsgQuizCompleted = "quiz_completed"

	// MsgQuizEnded - сессия завершена для всех
	MsgQuizEnded = "quiz_ended"

	// MsgHostDisconnected - хост потерял соединение
	MsgHostDisconnected = "host_disconnected"

	// MsgHostReconnected - хост вернулся в активную сессию
	MsgHostReconnected = "host_reconnected"

	// MsgError - ошибка обработки сообщения
	MsgError = "error"

	// MsgPong - ответ на прикладной ping
	MsgPong = "pong"
)

// Message - конверт протокола: тип плюс произвольная полезная нагрузка
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage сериализует конверт с полезной нагрузкой.
// Ошибка маршалинга означает программную ошибку (несериализуемый payload).
func NewMessage(msgType string, payload interface{}) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return json.Marshal(Message{Type: msgType, Payload: raw})
}

// ErrorPayload - полезная нагрузка сообщения об ошибке
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
