// Command mock-inference serves a stand-in model over the KServe v2 REST
// protocol so the remote backend can be exercised without a GPU.
//
// Every output weight is the RMS energy of the audio window scaled by --gain,
// so louder speech opens the face further. Eye outputs stay at zero.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/AnEntrypoint/A2F/internal/blendshape"
)

type tensor struct {
	Name     string    `json:"name"`
	Datatype string    `json:"datatype"`
	Shape    []int64   `json:"shape"`
	Data     []float32 `json:"data,omitempty"`
}

type metadataResponse struct {
	Name     string   `json:"name"`
	Platform string   `json:"platform"`
	Inputs   []tensor `json:"inputs"`
	Outputs  []tensor `json:"outputs"`
}

type inferRequest struct {
	ID     string   `json:"id"`
	Inputs []tensor `json:"inputs"`
}

type inferResponse struct {
	ModelName string   `json:"model_name"`
	ID        string   `json:"id"`
	Outputs   []tensor `json:"outputs"`
}

type mockModel struct {
	name    string
	apiKey  string
	gain    float64
	latency time.Duration
	width   int
	layout  blendshape.OutputLayout
	logger  *slog.Logger
}

var (
	addr      string
	modelName string
	apiKey    string
	gain      float64
	latency   time.Duration
	width     int
)

var rootCmd = &cobra.Command{
	Use:           "mock-inference",
	Short:         "Serve a deterministic audio-to-blendshape model over KServe v2",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if width <= 0 {
			return fmt.Errorf("width must be positive, got %d", width)
		}
		logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
		model := &mockModel{
			name:    modelName,
			apiKey:  apiKey,
			gain:    gain,
			latency: latency,
			width:   width,
			layout:  blendshape.DefaultLayout,
			logger:  logger,
		}

		logger.Info("Mock inference server starting",
			slog.String("address", addr),
			slog.String("model", modelName),
			slog.Int("output_width", width))
		return http.ListenAndServe(addr, model.routes())
	},
}

func init() {
	rootCmd.Flags().StringVar(&addr, "addr", ":9000", "listen address")
	rootCmd.Flags().StringVar(&modelName, "model", "a2f", "model name served under /v2/models/")
	rootCmd.Flags().StringVar(&apiKey, "api-key", "", "require this bearer token when set")
	rootCmd.Flags().Float64Var(&gain, "gain", 4, "RMS to weight scale")
	rootCmd.Flags().DurationVar(&latency, "latency", 0, "artificial delay per inference")
	rootCmd.Flags().IntVar(&width, "width", blendshape.DefaultLayout.Width(), "number of output values")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (m *mockModel) routes() http.Handler {
	mux := http.NewServeMux()
	prefix := "/v2/models/" + m.name
	mux.HandleFunc(prefix, m.handleMetadata)
	mux.HandleFunc(prefix+"/infer", m.handleInfer)
	mux.HandleFunc("/v2/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return m.authorize(mux)
}

func (m *mockModel) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.apiKey != "" && r.Header.Get("Authorization") != "Bearer "+m.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *mockModel) handleMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, metadataResponse{
		Name:     m.name,
		Platform: "mock",
		Inputs: []tensor{
			{Name: "audio", Datatype: "FP32", Shape: []int64{1, -1}},
		},
		Outputs: []tensor{
			{Name: "blendshapes", Datatype: "FP32", Shape: []int64{1, int64(m.width)}},
		},
	})
}

func (m *mockModel) handleInfer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	var req inferRequest
	if err := sonic.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	var audio []float32
	for _, in := range req.Inputs {
		if in.Name == "audio" || in.Name == "input" {
			audio = in.Data
			break
		}
	}
	if len(audio) == 0 {
		writeError(w, http.StatusBadRequest, "missing audio input")
		return
	}

	if m.latency > 0 {
		time.Sleep(m.latency)
	}

	out := m.infer(audio)
	m.logger.Debug("Inference served",
		slog.String("request_id", req.ID),
		slog.Int("samples", len(audio)))

	writeJSON(w, http.StatusOK, inferResponse{
		ModelName: m.name,
		ID:        req.ID,
		Outputs: []tensor{
			{Name: "blendshapes", Datatype: "FP32", Shape: []int64{1, int64(len(out))}, Data: out},
		},
	})
}

func (m *mockModel) infer(audio []float32) []float32 {
	var sum float64
	for _, s := range audio {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(audio)))
	weight := float32(math.Min(rms*m.gain, 1))

	// Narrower outputs truncate the regions, wider ones leave the tail at zero
	out := make([]float32, m.width)
	for _, region := range []blendshape.Region{m.layout.Skin, m.layout.Tongue, m.layout.Jaw} {
		for i := region.Offset; i < region.End() && i < len(out); i++ {
			out[i] = weight
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": strings.TrimSpace(msg)})
}
