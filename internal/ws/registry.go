package ws

import "sync"

const defaultSessionsPerUser = 2

// Conn: живое соединение, которым владеет хаб. *Client реализует его поверх websocket.
type Conn interface {
	ID() string
	UserID() string
	// Send кладёт сообщение в очередь отправки; false: очередь переполнена.
	Send(msg OutgoingMessage) bool
	Close()
}

// SessionRegistry хранит живые соединения по пользователям и держит не больше perUser
// самых свежих сессий на пользователя.
type SessionRegistry struct {
	mu       sync.Mutex
	perUser  int
	sessions map[string][]Conn // от старых к новым
	total    int
}

func NewSessionRegistry(perUser int) *SessionRegistry {
	if perUser <= 0 {
		perUser = defaultSessionsPerUser
	}
	return &SessionRegistry{
		perUser:  perUser,
		sessions: make(map[string][]Conn),
	}
}

// Register добавляет соединение. Если у пользователя уже perUser сессий, самые старые
// вытесняются и закрываются. first: это первая живая сессия пользователя.
func (r *SessionRegistry) Register(c Conn) (evicted []Conn, first bool) {
	r.mu.Lock()
	uid := c.UserID()
	list := r.sessions[uid]
	first = len(list) == 0
	for len(list) >= r.perUser {
		evicted = append(evicted, list[0])
		list = list[1:]
		r.total--
	}
	list = append(list[:len(list):len(list)], c)
	r.sessions[uid] = list
	r.total++
	r.mu.Unlock()

	// Close делает сетевой I/O, поэтому вне блокировки.
	for _, e := range evicted {
		e.Close()
	}
	return evicted, first
}

// Unregister удаляет соединение. removed=false, если его уже нет (например, вытеснено).
// last: у пользователя не осталось живых сессий.
func (r *SessionRegistry) Unregister(c Conn) (removed, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	uid := c.UserID()
	list := r.sessions[uid]
	for i, existing := range list {
		if existing != c {
			continue
		}
		next := make([]Conn, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		r.total--
		if len(next) == 0 {
			delete(r.sessions, uid)
			return true, true
		}
		r.sessions[uid] = next
		return true, false
	}
	return false, false
}

// ConnectionsFor возвращает копию списка живых соединений пользователя.
func (r *SessionRegistry) ConnectionsFor(userID string) []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.sessions[userID]
	out := make([]Conn, len(list))
	copy(out, list)
	return out
}

// Replaces сообщает, что новая сессия пользователя вытеснит старую и общее число соединений не вырастет.
func (r *SessionRegistry) Replaces(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions[userID]) >= r.perUser
}

func (r *SessionRegistry) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

func (r *SessionRegistry) Users() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Drain забирает все соединения и очищает реестр (используется при остановке).
func (r *SessionRegistry) Drain() []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Conn, 0, r.total)
	for _, list := range r.sessions {
		out = append(out, list...)
	}
	r.sessions = make(map[string][]Conn)
	r.total = 0
	return out
}
