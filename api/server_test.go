package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gorilla "github.com/gorilla/websocket"
	"github.com/wricardo/roomlink/protocol"
	"github.com/wricardo/roomlink/transport/websocket"
)

// MockDirectory implements RoomDirectory for testing
type MockDirectory struct {
	RoomsFunc     func(ctx context.Context, name string) ([]protocol.RoomAvailable, error)
	RoomTypesFunc func() []websocket.RoomType
	ServeWSFunc   func(w http.ResponseWriter, r *http.Request)
}

func (m *MockDirectory) Rooms(ctx context.Context, name string) ([]protocol.RoomAvailable, error) {
	if m.RoomsFunc != nil {
		return m.RoomsFunc(ctx, name)
	}
	return []protocol.RoomAvailable{}, nil
}

func (m *MockDirectory) RoomTypes() []websocket.RoomType {
	if m.RoomTypesFunc != nil {
		return m.RoomTypesFunc()
	}
	return []websocket.RoomType{{Name: "lobby", MaxClients: 4}}
}

func (m *MockDirectory) ServeWS(w http.ResponseWriter, r *http.Request) {
	if m.ServeWSFunc != nil {
		m.ServeWSFunc(w, r)
		return
	}
	http.Error(w, "no websocket in mock", http.StatusNotImplemented)
}

// Test helpers
func setupTestServer(mock *MockDirectory) *Server {
	return NewServer(mock, nil)
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder, target interface{}) {
	if err := json.Unmarshal(w.Body.Bytes(), target); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
}

type roomsResponse struct {
	Name  string                   `json:"name"`
	Count int                      `json:"count"`
	Rooms []protocol.RoomAvailable `json:"rooms"`
}

func TestHealth(t *testing.T) {
	server := setupTestServer(&MockDirectory{})
	w := httptest.NewRecorder()
	server.ServeHTTP(w, httptest.NewRequest("GET", "/api/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var resp map[string]string
	parseResponse(t, w, &resp)
	if resp["status"] != "healthy" {
		t.Errorf("Expected healthy, got %q", resp["status"])
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got %q", ct)
	}
}

func TestListRooms(t *testing.T) {
	tests := []struct {
		name           string
		path           string
		setupMock      func(*MockDirectory)
		expectedStatus int
		validateResp   func(*testing.T, *httptest.ResponseRecorder)
	}{
		{
			name: "Rooms for a name",
			path: "/api/rooms?name=lobby",
			setupMock: func(m *MockDirectory) {
				m.RoomsFunc = func(ctx context.Context, name string) ([]protocol.RoomAvailable, error) {
					if name != "lobby" {
						t.Errorf("Expected name 'lobby', got %q", name)
					}
					return []protocol.RoomAvailable{
						{RoomID: "aa11", Name: "lobby", Clients: 1, MaxClients: 4},
					}, nil
				}
			},
			expectedStatus: http.StatusOK,
			validateResp: func(t *testing.T, w *httptest.ResponseRecorder) {
				var resp roomsResponse
				parseResponse(t, w, &resp)
				if resp.Count != 1 || resp.Rooms[0].RoomID != "aa11" {
					t.Errorf("Unexpected response %+v", resp)
				}
				if !strings.Contains(w.Body.String(), `"room_id":"aa11"`) {
					t.Errorf("Expected room_id in body, got %s", w.Body.String())
				}
			},
		},
		{
			name: "Nil list becomes empty",
			path: "/api/rooms?name=ghost",
			setupMock: func(m *MockDirectory) {
				m.RoomsFunc = func(ctx context.Context, name string) ([]protocol.RoomAvailable, error) {
					return nil, nil
				}
			},
			expectedStatus: http.StatusOK,
			validateResp: func(t *testing.T, w *httptest.ResponseRecorder) {
				if !strings.Contains(w.Body.String(), `"rooms":[]`) {
					t.Errorf("Expected an empty JSON array, got %s", w.Body.String())
				}
			},
		},
		{
			name: "Hub stopped",
			path: "/api/rooms",
			setupMock: func(m *MockDirectory) {
				m.RoomsFunc = func(ctx context.Context, name string) ([]protocol.RoomAvailable, error) {
					return nil, fmt.Errorf("query: %w", websocket.ErrHubStopped)
				}
			},
			expectedStatus: http.StatusServiceUnavailable,
		},
		{
			name: "Timeout",
			path: "/api/rooms",
			setupMock: func(m *MockDirectory) {
				m.RoomsFunc = func(ctx context.Context, name string) ([]protocol.RoomAvailable, error) {
					return nil, context.DeadlineExceeded
				}
			},
			expectedStatus: http.StatusGatewayTimeout,
		},
		{
			name: "Other error",
			path: "/api/rooms",
			setupMock: func(m *MockDirectory) {
				m.RoomsFunc = func(ctx context.Context, name string) ([]protocol.RoomAvailable, error) {
					return nil, fmt.Errorf("boom")
				}
			},
			expectedStatus: http.StatusInternalServerError,
			validateResp: func(t *testing.T, w *httptest.ResponseRecorder) {
				var resp map[string]string
				parseResponse(t, w, &resp)
				if resp["error"] != "boom" {
					t.Errorf("Expected error 'boom', got %q", resp["error"])
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &MockDirectory{}
			if tt.setupMock != nil {
				tt.setupMock(mock)
			}

			server := setupTestServer(mock)
			w := httptest.NewRecorder()
			server.ServeHTTP(w, httptest.NewRequest("GET", tt.path, nil))

			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, w.Code)
			}
			if tt.validateResp != nil {
				tt.validateResp(t, w)
			}
		})
	}
}

func TestGetRoomsByName(t *testing.T) {
	server := setupTestServer(&MockDirectory{})

	t.Run("known type", func(t *testing.T) {
		w := httptest.NewRecorder()
		server.ServeHTTP(w, httptest.NewRequest("GET", "/api/rooms/lobby", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}
		var resp roomsResponse
		parseResponse(t, w, &resp)
		if resp.Name != "lobby" {
			t.Errorf("Expected name lobby, got %q", resp.Name)
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		w := httptest.NewRecorder()
		server.ServeHTTP(w, httptest.NewRequest("GET", "/api/rooms/arena", nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("Expected status 404, got %d", w.Code)
		}
	})
}

func TestRoomTypes(t *testing.T) {
	server := setupTestServer(&MockDirectory{})
	w := httptest.NewRecorder()
	server.ServeHTTP(w, httptest.NewRequest("GET", "/api/rooms/types", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var resp struct {
		Count int                  `json:"count"`
		Types []websocket.RoomType `json:"types"`
	}
	parseResponse(t, w, &resp)
	if resp.Count != 1 || resp.Types[0].Name != "lobby" || resp.Types[0].MaxClients != 4 {
		t.Errorf("Unexpected response %+v", resp)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	server := setupTestServer(&MockDirectory{})

	tests := []struct {
		method string
		path   string
	}{
		{"POST", "/api/rooms"},
		{"POST", "/api/health"},
		{"DELETE", "/api/rooms/lobby"},
		{"PUT", "/api/rooms/types"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			server.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			if w.Code != http.StatusMethodNotAllowed {
				t.Fatalf("Expected status 405, got %d", w.Code)
			}
			var resp map[string]string
			parseResponse(t, w, &resp)
			if resp["error"] != "method not allowed" {
				t.Errorf("Expected method not allowed error, got %v", resp)
			}
		})
	}
}

func TestUnknownRoute(t *testing.T) {
	server := setupTestServer(&MockDirectory{})
	w := httptest.NewRecorder()
	server.ServeHTTP(w, httptest.NewRequest("GET", "/api/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestWebSocketRoute(t *testing.T) {
	hub := websocket.NewHub(websocket.HubOptions{
		RoomTypes: []websocket.RoomType{{Name: "lobby", MaxClients: 4}},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	ts := httptest.NewServer(NewServer(hub, nil))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer conn.Close()

	data, err := protocol.Encode(protocol.Frame{Op: protocol.OpJoinRequest, Seq: 1, Room: "lobby"})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if err := conn.WriteMessage(gorilla.BinaryMessage, data); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	f, err := protocol.Decode(msg)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if f.Op != protocol.OpJoinRoom || f.RoomID == "" {
		t.Fatalf("Expected join_room with a room id, got %+v", f)
	}

	resp, err := http.Get(ts.URL + "/api/rooms?name=lobby")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	var rooms roomsResponse
	if err := json.NewDecoder(resp.Body).Decode(&rooms); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if rooms.Count != 1 || rooms.Rooms[0].RoomID != f.RoomID || rooms.Rooms[0].Clients != 1 {
		t.Errorf("Expected the joined room, got %+v", rooms)
	}
}
