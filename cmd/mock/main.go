package main

import (
	crand "crypto/rand"
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

// 本地联调用的假上游：五个接口的返回结构与真实服务对齐，
// 估算值随时间缓慢累积，领取后清零。
func main() {
	addr := flag.String("addr", ":8080", "listen address")
	flag.Parse()

	state := &mockState{
		estimates: make(map[string]float64),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/mock/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"ok": true})
	})

	mux.HandleFunc("/mock/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.RefreshToken == "" {
			writeJSON(w, map[string]any{"success": false, "error": "invalid token"})
			return
		}
		writeJSON(w, map[string]any{
			"success": true,
			"data": map[string]any{
				"accessToken":  "mock_access_" + randString(16),
				"refreshToken": "mock_refresh_" + randString(16),
			},
		})
	})

	mux.HandleFunc("/mock/mining/profile", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		// 1/10 概率装作令牌过期，驱动刷新流程。
		if rand.Intn(10) == 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "token expired"})
			return
		}
		writeJSON(w, map[string]any{
			"success": true,
			"data": map[string]any{
				"name":        "miner_" + r.URL.Query().Get("uniqueId"),
				"totalReward": 100 + rand.Float64()*50,
			},
		})
	})

	mux.HandleFunc("/mock/mining/estimate", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id := r.URL.Query().Get("uniqueId")
		writeJSON(w, map[string]any{
			"success": true,
			"data":    map[string]any{"value": state.accrue(id)},
		})
	})

	mux.HandleFunc("/mock/mining/claim", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var body struct {
			UniqueID string `json:"uniqueId"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		value := state.reset(body.UniqueID)
		writeJSON(w, map[string]any{
			"success": true,
			"data": map[string]any{
				"claimed": true,
				"balance": 100 + value,
			},
		})
	})

	mux.HandleFunc("/mock/mining/start", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, map[string]any{
			"success": true,
			"data":    map[string]any{"status": "mining"},
		})
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("mock listening on %s", *addr)
	log.Fatal(srv.ListenAndServe())
}

type mockState struct {
	mu        sync.Mutex
	estimates map[string]float64
}

// accrue 每次被查询就往上累一点，模拟挖矿收益慢慢攒。
func (s *mockState) accrue(id string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.estimates[id] += 2 + rand.Float64()*3
	return s.estimates[id]
}

func (s *mockState) reset(id string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.estimates[id]
	s.estimates[id] = 0
	return v
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func randString(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	if n <= 0 {
		return ""
	}
	raw := make([]byte, n)
	_, _ = crand.Read(raw)
	out := make([]byte, n)
	for i := range out {
		out[i] = letters[int(raw[i])%len(letters)]
	}
	return string(out)
}
