package scanning

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Ollama", func() {
	var (
		server  *ghttp.Server
		scanner *Ollama
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		var err error
		scanner, err = NewOllama(server.URL()+"/", "llava")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	It("sends the page and parses the reply", func() {
		server.AppendHandlers(ghttp.CombineHandlers(
			ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
			ghttp.VerifyContentType("application/json"),
			func(w http.ResponseWriter, r *http.Request) {
				body, err := io.ReadAll(r.Body)
				Expect(err).NotTo(HaveOccurred())
				var req ollamaChatRequest
				Expect(json.Unmarshal(body, &req)).To(Succeed())
				Expect(req.Model).To(Equal("llava"))
				Expect(req.Stream).To(BeFalse())
				Expect(req.Messages).To(HaveLen(2))
				Expect(req.Messages[1].Images).To(Equal([]string{base64.StdEncoding.EncodeToString([]byte("jpeg page"))}))
			},
			ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
				Message: ollamaMessage{Role: "assistant", Content: "```json\n{\"merchant\":\"全聯\",\"date\":\"113/03/01\",\"amount\":320,\"currency\":\"TWD\"}\n```"},
				Done:    true,
			}),
		))

		summary, err := scanner.ScanPage(context.Background(), []byte("jpeg page"))
		Expect(err).NotTo(HaveOccurred())
		Expect(summary.Merchant).To(Equal("全聯"))
		Expect(summary.Date).To(Equal("2024-03-01"))
		Expect(summary.Amount).To(Equal(320.0))
	})

	It("reports API errors", func() {
		server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "model not loaded"))

		_, err := scanner.ScanPage(context.Background(), []byte("jpeg page"))
		Expect(err).To(MatchError(ContainSubstring("status 500")))
	})

	It("reports replies without JSON", func() {
		server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
			Message: ollamaMessage{Content: "I cannot read this"},
		}))

		_, err := scanner.ScanPage(context.Background(), []byte("jpeg page"))
		Expect(err).To(MatchError(ContainSubstring("parsing page data")))
	})
})
