// Package comfyuitest provides an in-process fake ComfyUI server for tests.
package comfyuitest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/gin-gonic/gin"

	"comfybatch/internal/interfaces"
)

// Upload one image received on /upload/image
type Upload struct {
	Filename  string
	Subfolder string
	Overwrite bool
	Content   []byte
}

// Server fake ComfyUI server. A prompt is reported pending for PendingPolls
// history queries and completed with ImagesPerPrompt images afterwards.
type Server struct {
	*httptest.Server

	mu              sync.Mutex
	pendingPolls    int
	imagesPerPrompt int
	failPrompts     int
	failViews       map[string]bool
	errorPrompts    bool

	prompts      []json.RawMessage
	uploads      []Upload
	historyCalls map[string]int
	interrupts   int
	images       map[string][]byte
}

// NewServer starts a fake server that completes every prompt on the first query
func NewServer() *Server {
	gin.SetMode(gin.TestMode)

	s := &Server{
		imagesPerPrompt: 1,
		failViews:       make(map[string]bool),
		historyCalls:    make(map[string]int),
		images:          make(map[string][]byte),
	}

	router := gin.New()
	router.POST("/upload/image", s.upload)
	router.POST("/prompt", s.prompt)
	router.GET("/history/:id", s.history)
	router.GET("/view", s.view)
	router.POST("/interrupt", s.interrupt)
	router.GET("/system_stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"system": gin.H{"os": "fake"}})
	})

	s.Server = httptest.NewServer(router)
	return s
}

// SetPendingPolls sets how many history queries report a prompt as still pending
func (s *Server) SetPendingPolls(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingPolls = n
}

// SetImagesPerPrompt sets how many images every completed prompt produces
func (s *Server) SetImagesPerPrompt(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.imagesPerPrompt = n
}

// FailNextPrompts makes the next n /prompt calls answer 500
func (s *Server) FailNextPrompts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPrompts = n
}

// FailView makes /view answer 500 for the given output filename
func (s *Server) FailView(filename string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failViews[filename] = true
}

// ReportExecutionErrors makes completed prompts carry an error status
func (s *Server) ReportExecutionErrors(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorPrompts = v
}

// Prompts returns the "prompt" field of every accepted submission
func (s *Server) Prompts() []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]json.RawMessage(nil), s.prompts...)
}

// Uploads returns every uploaded image
func (s *Server) Uploads() []Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Upload(nil), s.uploads...)
}

// HistoryCalls returns how many times the history of promptID was queried
func (s *Server) HistoryCalls(promptID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyCalls[promptID]
}

// Interrupts returns how many times /interrupt was called
func (s *Server) Interrupts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interrupts
}

// ImageContent returns the bytes served for an output filename
func (s *Server) ImageContent(filename string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.images[filename]
}

// OutputFilename name of the i-th image produced for a prompt
func OutputFilename(promptID string, i int) string {
	return fmt.Sprintf("%s_%05d_.png", promptID, i)
}

func (s *Server) upload(c *gin.Context) {
	fileHeader, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()
	content, _ := io.ReadAll(f)

	up := Upload{
		Filename:  fileHeader.Filename,
		Subfolder: c.PostForm("subfolder"),
		Overwrite: c.PostForm("overwrite") == "true",
		Content:   content,
	}

	s.mu.Lock()
	s.uploads = append(s.uploads, up)
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"name": up.Filename, "subfolder": up.Subfolder, "type": "input"})
}

func (s *Server) prompt(c *gin.Context) {
	var req struct {
		Prompt json.RawMessage `json:"prompt"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPrompts > 0 {
		s.failPrompts--
		c.JSON(http.StatusInternalServerError, gin.H{"error": "queue unavailable"})
		return
	}
	s.prompts = append(s.prompts, req.Prompt)
	number := len(s.prompts)
	c.JSON(http.StatusOK, gin.H{
		"prompt_id":   fmt.Sprintf("prompt-%d", number),
		"number":      number,
		"node_errors": gin.H{},
	})
}

func (s *Server) history(c *gin.Context) {
	id := c.Param("id")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.historyCalls[id]++
	if s.historyCalls[id] <= s.pendingPolls {
		c.JSON(http.StatusOK, gin.H{})
		return
	}

	images := make([]interfaces.OutputImage, 0, s.imagesPerPrompt)
	for i := 0; i < s.imagesPerPrompt; i++ {
		name := OutputFilename(id, i)
		s.images[name] = []byte(fmt.Sprintf("png:%s:%d", id, i))
		images = append(images, interfaces.OutputImage{Filename: name, Subfolder: "", Type: "output"})
	}

	status := "success"
	if s.errorPrompts {
		status = "error"
	}
	c.JSON(http.StatusOK, gin.H{
		id: gin.H{
			"outputs": gin.H{"9": gin.H{"images": images}},
			"status":  gin.H{"status_str": status, "completed": !s.errorPrompts},
		},
	})
}

func (s *Server) view(c *gin.Context) {
	name := c.Query("filename")

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failViews[name] {
		c.String(http.StatusInternalServerError, "broken")
		return
	}
	data, ok := s.images[name]
	if !ok || c.Query("type") != "output" {
		c.String(http.StatusNotFound, "not found")
		return
	}
	c.Data(http.StatusOK, "image/png", data)
}

func (s *Server) interrupt(c *gin.Context) {
	s.mu.Lock()
	s.interrupts++
	s.mu.Unlock()
	c.Status(http.StatusOK)
}
