package trigger_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"transcript-pipeline-service/internal/events"
	"transcript-pipeline-service/internal/service/audio"
	"transcript-pipeline-service/internal/service/callback"
	"transcript-pipeline-service/internal/service/job"
	"transcript-pipeline-service/internal/service/stt/mock"
	"transcript-pipeline-service/internal/service/transcript"
	"transcript-pipeline-service/internal/service/trigger"
	"transcript-pipeline-service/internal/storage"
)

func notification(key string) []byte {
	return []byte(`{"Records":[{"eventName":"s3:ObjectCreated:Put","s3":{"bucket":{"name":"recordings"},"object":{"key":"` + key + `"}}}]}`)
}

var _ = Describe("Transcript pipeline", func() {
	var (
		ctx      context.Context
		store    *storage.MemoryStore
		provider *mock.Provider
		ledger   *job.MemoryLedger
		router   *trigger.Router
		server   *httptest.Server
	)

	clock := func() time.Time { return time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC) }

	BeforeEach(func() {
		ctx = context.Background()
		store = storage.NewMemoryStore("recordings")
		publisher := events.New(&events.Config{Enabled: false})
		ledger = job.NewMemoryLedger()

		receiver := callback.NewReceiverWithClock(store, publisher, clock)
		receiver.SetLedger(ledger)

		mux := http.NewServeMux()
		mux.HandleFunc("POST /callback/{jobId}/results", func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			if _, err := receiver.Receive(r.Context(), r.PathValue("jobId"), body); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"message": "Success"}`))
		})
		server = httptest.NewServer(mux)

		provider = mock.New()
		// Lets the submission be recorded before its result arrives.
		provider.Delay = 20 * time.Millisecond
		provider.Utterances = []mock.SimulatedUtterance{
			{Speaker: 0, Transcript: "hello %HESITATION there"},
			{Speaker: 1, Transcript: "hi"},
			{Speaker: 1, Transcript: "bye now"},
		}

		ingester := audio.NewHandler(store, provider, publisher, server.URL)
		ingester.SetLedger(ledger)
		normalizer := transcript.NewNormalizerWithClock(store, publisher, clock)
		normalizer.SetLedger(ledger)
		router = trigger.NewRouter(ingester, normalizer)
	})

	AfterEach(func() {
		provider.Wait()
		server.Close()
	})

	Context("an uploaded recording", func() {
		It("flows from upload to a clean transcript table", func() {
			Expect(store.Put(ctx, "20240101/recordings/a.wav", []byte("RIFF"), "audio/wav")).To(Succeed())

			By("submitting the recording")
			Expect(router.HandleNotification(ctx, notification("20240101/recordings/a.wav"))).To(Succeed())
			Expect(provider.Registered()).To(ConsistOf(server.URL + "/callback/a.wav/results"))
			Expect(provider.Submitted()).To(HaveLen(1))
			Expect(provider.Submitted()[0].ContentType).To(Equal("audio/wav"))

			By("storing the delivered result")
			Eventually(func() error {
				_, err := store.Get(ctx, "20240101/results/a.wav.json")
				return err
			}, 2*time.Second, 10*time.Millisecond).Should(Succeed())

			By("normalizing on the result's storage notification")
			Expect(router.HandleNotification(ctx, notification("20240101/results/a.wav.json"))).To(Succeed())

			csv, err := store.Get(ctx, "20240101/clean/a.wav.csv")
			Expect(err).ToNot(HaveOccurred())
			Expect(string(csv)).To(Equal("speaker,transcript,start_time,end_time\n" +
				"0,hello  there,0.0,1.4\n" +
				"1,hi,2.0,2.4\n" +
				"1,bye now,3.0,3.9"))

			rec, err := ledger.Get(ctx, "a.wav")
			Expect(err).ToNot(HaveOccurred())
			Expect(rec.Status).To(Equal(job.StateNormalized))
			Expect(rec.AudioKey).To(Equal("20240101/recordings/a.wav"))
			Expect(rec.CleanKey).To(Equal("20240101/clean/a.wav.csv"))
		})

		It("ignores clean tables and unrelated JSON", func() {
			Expect(router.HandleNotification(ctx, notification("20240101/clean/a.wav.csv"))).To(Succeed())
			Expect(router.HandleNotification(ctx, notification("20240101/exports/a.json"))).To(Succeed())
			Expect(provider.Submitted()).To(BeEmpty())

			listing, err := store.List(ctx, "", "")
			Expect(err).ToNot(HaveOccurred())
			Expect(listing.Keys).To(BeEmpty())
		})
	})

	Context("an edited result", func() {
		It("keeps the clean table until the next normalization", func() {
			Expect(store.Put(ctx, "20240101/recordings/b.wav", []byte("RIFF"), "audio/wav")).To(Succeed())
			Expect(router.HandleNotification(ctx, notification("20240101/recordings/b.wav"))).To(Succeed())
			Eventually(func() error {
				_, err := store.Get(ctx, "20240101/results/b.wav.json")
				return err
			}, 2*time.Second, 10*time.Millisecond).Should(Succeed())

			editor := transcript.NewEditor(store, events.New(nil))
			rows, err := editor.Load(ctx, "20240101/results/b.wav.json")
			Expect(err).ToNot(HaveOccurred())
			Expect(rows).To(HaveLen(3))
			Expect(rows[0].Transcript).To(Equal("hello  there"))

			err = editor.Apply(ctx, "20240101/results/b.wav.json", []string{"hello there", "hi"})
			Expect(err).To(MatchError(transcript.ErrEditCountMismatch))

			Expect(editor.Apply(ctx, "20240101/results/b.wav.json", []string{"hello there", "hi", "goodbye"})).To(Succeed())
			Expect(router.HandleNotification(ctx, notification("20240101/results/b.wav.json"))).To(Succeed())

			csv, err := store.Get(ctx, "20240101/clean/b.wav.csv")
			Expect(err).ToNot(HaveOccurred())
			Expect(string(csv)).To(HaveSuffix("1,goodbye,3.0,3.9"))
		})
	})
})
