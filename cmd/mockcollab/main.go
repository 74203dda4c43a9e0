// Mock collaborator server for local development. Serves canned Deepgram-style
// transcription responses and OpenAI-style chat completions so the full
// recorder -> scribed -> collaborator loop runs without external accounts.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync/atomic"
	"time"
)

type mockWord struct {
	Word           string  `json:"word"`
	PunctuatedWord string  `json:"punctuated_word"`
	Speaker        int     `json:"speaker"`
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
}

type listenResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string     `json:"transcript"`
				Words      []mockWord `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Canned doctor/patient exchanges, rotated per request so consecutive
// segments produce different transcript lines
var cannedExchanges = [][]mockWord{
	{
		{Word: "good", PunctuatedWord: "Good", Speaker: 0, Start: 0.0, End: 0.3},
		{Word: "morning", PunctuatedWord: "morning,", Speaker: 0, Start: 0.3, End: 0.7},
		{Word: "what", PunctuatedWord: "what", Speaker: 0, Start: 0.7, End: 0.9},
		{Word: "brings", PunctuatedWord: "brings", Speaker: 0, Start: 0.9, End: 1.2},
		{Word: "you", PunctuatedWord: "you", Speaker: 0, Start: 1.2, End: 1.4},
		{Word: "in", PunctuatedWord: "in?", Speaker: 0, Start: 1.4, End: 1.6},
		{Word: "ive", PunctuatedWord: "I've", Speaker: 1, Start: 2.0, End: 2.2},
		{Word: "had", PunctuatedWord: "had", Speaker: 1, Start: 2.2, End: 2.4},
		{Word: "a", PunctuatedWord: "a", Speaker: 1, Start: 2.4, End: 2.5},
		{Word: "cough", PunctuatedWord: "cough", Speaker: 1, Start: 2.5, End: 2.9},
		{Word: "for", PunctuatedWord: "for", Speaker: 1, Start: 2.9, End: 3.1},
		{Word: "two", PunctuatedWord: "two", Speaker: 1, Start: 3.1, End: 3.3},
		{Word: "weeks", PunctuatedWord: "weeks", Speaker: 1, Start: 3.3, End: 3.7},
	},
	{
		{Word: "any", PunctuatedWord: "Any", Speaker: 0, Start: 0.0, End: 0.3},
		{Word: "fever", PunctuatedWord: "fever", Speaker: 0, Start: 0.3, End: 0.7},
		{Word: "or", PunctuatedWord: "or", Speaker: 0, Start: 0.7, End: 0.9},
		{Word: "chills", PunctuatedWord: "chills?", Speaker: 0, Start: 0.9, End: 1.3},
		{Word: "some", PunctuatedWord: "Some", Speaker: 1, Start: 1.8, End: 2.1},
		{Word: "fever", PunctuatedWord: "fever", Speaker: 1, Start: 2.1, End: 2.5},
		{Word: "at", PunctuatedWord: "at", Speaker: 1, Start: 2.5, End: 2.7},
		{Word: "night", PunctuatedWord: "night", Speaker: 1, Start: 2.7, End: 3.1},
	},
	{
		{Word: "lungs", PunctuatedWord: "Lungs", Speaker: 0, Start: 0.0, End: 0.4},
		{Word: "are", PunctuatedWord: "are", Speaker: 0, Start: 0.4, End: 0.6},
		{Word: "clear", PunctuatedWord: "clear,", Speaker: 0, Start: 0.6, End: 1.0},
		{Word: "well", PunctuatedWord: "we'll", Speaker: 0, Start: 1.0, End: 1.3},
		{Word: "start", PunctuatedWord: "start", Speaker: 0, Start: 1.3, End: 1.6},
		{Word: "an", PunctuatedWord: "an", Speaker: 0, Start: 1.6, End: 1.8},
		{Word: "antitussive", PunctuatedWord: "antitussive", Speaker: 0, Start: 1.8, End: 2.5},
	},
}

const cannedNote = `Chain of thought: The patient presents with a two week cough and night
fevers. Lung exam is clear, so the physician chose symptomatic treatment.

Subjective: Patient reports a cough persisting for two weeks with episodes
of fever at night. No other complaints voiced.

Objective: Lung auscultation clear bilaterally. No respiratory distress
observed during the visit.

Assessment: Subacute cough, likely post-viral. Night fevers warrant
follow-up if they persist.

Plan: Start an antitussive. Return in one week if the cough or fevers
continue, or sooner with worsening symptoms.`

var (
	listenCount uint64
	chatCount   uint64
)

func listenHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	audio, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Error reading audio body", http.StatusBadRequest)
		return
	}

	n := atomic.AddUint64(&listenCount, 1)
	words := cannedExchanges[(n-1)%uint64(len(cannedExchanges))]

	log.Printf("🎤 TRANSCRIPTION REQUEST #%d:", n)
	log.Printf("    Audio Size: %d bytes", len(audio))
	log.Printf("    Content-Type: %s", r.Header.Get("Content-Type"))
	log.Printf("    Model: %s", r.URL.Query().Get("model"))
	log.Printf("    Language: %s", r.URL.Query().Get("language"))
	log.Printf("    Diarize: %s", r.URL.Query().Get("diarize"))

	// Simulate processing time
	time.Sleep(200 * time.Millisecond)

	var resp listenResponse
	resp.Results.Channels = []struct {
		Alternatives []struct {
			Transcript string     `json:"transcript"`
			Words      []mockWord `json:"words"`
		} `json:"alternatives"`
	}{
		{
			Alternatives: []struct {
				Transcript string     `json:"transcript"`
				Words      []mockWord `json:"words"`
			}{
				{Words: words},
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)

	log.Printf("✅ TRANSCRIPTION RESPONSE SENT: %d words", len(words))
	log.Println("---")
}

func chatHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Error parsing chat request", http.StatusBadRequest)
		return
	}

	n := atomic.AddUint64(&chatCount, 1)

	promptLen := 0
	if len(req.Messages) > 0 {
		promptLen = len(req.Messages[len(req.Messages)-1].Content)
	}

	log.Printf("📝 NOTE REQUEST #%d:", n)
	log.Printf("    Model: %s", req.Model)
	log.Printf("    Messages: %d", len(req.Messages))
	log.Printf("    Prompt Size: %d chars", promptLen)

	// Simulate processing time
	time.Sleep(500 * time.Millisecond)

	var resp chatResponse
	resp.Choices = []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	}{{}}
	resp.Choices[0].Message.Role = "assistant"
	resp.Choices[0].Message.Content = cannedNote
	resp.Usage.PromptTokens = promptLen / 4
	resp.Usage.CompletionTokens = len(cannedNote) / 4
	resp.Usage.TotalTokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)

	log.Printf("✅ NOTE RESPONSE SENT: %d tokens", resp.Usage.TotalTokens)
	log.Println("---")
}

func main() {
	port := flag.Int("port", 9000, "Port to listen on")
	flag.Parse()

	http.HandleFunc("/v1/listen", listenHandler)
	http.HandleFunc("/v1/chat/completions", chatHandler)

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("🚀 Mock Collaborator Server starting on %s", addr)
	log.Printf("📡 Transcription: http://localhost%s/v1/listen", addr)
	log.Printf("📡 Notes: http://localhost%s/v1/chat/completions", addr)
	log.Println("💡 Point both collaborator endpoints at http://localhost" + addr)

	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatal("Server failed to start:", err)
	}
}
