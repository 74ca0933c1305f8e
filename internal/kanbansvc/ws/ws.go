package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/avvvet/kanban-services/internal/comm"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	writeWait  = 5 * time.Second
	sendBuffer = 32
)

// client owns one connection. All data frames go through send and are
// written by writePump, the connection's only writer.
type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

func (c *client) stop() {
	c.once.Do(func() { close(c.done) })
}

func (c *client) writePump(onError func(error)) {
	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				onError(err)
				return
			}
		case <-c.done:
			return
		}
	}
}

// Ws tracks browser connections and pushes card events to all of them.
type Ws struct {
	connMap sync.Map // socketId -> *client
}

func NewWs() *Ws {
	return &Ws{}
}

func (s *Ws) StoreConnection(socketId string, conn *websocket.Conn) {
	c := newClient(conn)
	s.connMap.Store(socketId, c)

	go c.writePump(func(err error) {
		log.Warnf("dropping socket %s after write error: %v", socketId, err)
		s.drop(socketId, c)
	})
}

func (s *Ws) GetConnection(socketId string) (*websocket.Conn, bool) {
	c, ok := s.connMap.Load(socketId)
	if !ok {
		return nil, false
	}
	return c.(*client).conn, true
}

func (s *Ws) HandleDisconnect(socketId string) {
	if c, ok := s.connMap.LoadAndDelete(socketId); ok {
		c.(*client).stop()
		log.Infof("socket %s removed", socketId)
	}
}

func (s *Ws) Count() int {
	count := 0
	s.connMap.Range(func(key, value any) bool {
		count++
		return true
	})
	return count
}

// Notify queues the event for every connected socket and returns without
// waiting on the network. A socket whose queue is full is dropped.
func (s *Ws) Notify(event comm.CardEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Errorf("unable to marshal card event %s: %v", event.Type, err)
		return
	}

	s.connMap.Range(func(key, value any) bool {
		socketId := key.(string)
		c := value.(*client)
		select {
		case c.send <- data:
		default:
			log.Warnf("dropping socket %s, send queue full", socketId)
			s.drop(socketId, c)
		}
		return true
	})
}

func (s *Ws) drop(socketId string, c *client) {
	c.stop()
	c.conn.Close()
	s.connMap.CompareAndDelete(socketId, c)
}

// Close sends a close frame to every socket, used on shutdown.
func (s *Ws) Close() {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	s.connMap.Range(func(key, value any) bool {
		c := value.(*client)
		c.stop()
		// WriteControl may run concurrently with an in-flight data write
		c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		c.conn.Close()
		s.connMap.Delete(key)
		return true
	})
}
