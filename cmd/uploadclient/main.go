// Command uploadclient logs in to the pipeline, requests a presigned POST and
// uploads a local recording straight to the bucket.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"transcript-pipeline-service/internal/storage"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "Pipeline base URL")
	user := flag.String("user", os.Getenv("HTTP_USER"), "Operator username")
	pass := flag.String("pass", os.Getenv("HTTP_PASS"), "Operator password")
	file := flag.String("file", "", "Recording to upload")
	key := flag.String("key", "", "Destination key (default <today>/recordings/<file name>)")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	if *file == "" {
		log.Fatal().Msg("-file is required")
	}
	audio, err := os.ReadFile(*file)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read recording")
	}
	if *key == "" {
		*key = storage.DateStamp(time.Now()) + "/recordings/" + filepath.Base(*file)
	}
	contentType := mime.TypeByExtension(filepath.Ext(*file))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	jar, _ := cookiejar.New(nil)
	client := &http.Client{Jar: jar, Timeout: 2 * time.Minute}

	if err := login(ctx, client, *server, *user, *pass); err != nil {
		log.Fatal().Err(err).Msg("Login failed")
	}

	post, err := presign(ctx, client, *server, *key, contentType)
	if err != nil {
		log.Fatal().Err(err).Msg("Presign failed")
	}
	if u, err := url.Parse(post.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		log.Fatal().Str("url", post.URL).Msg("The configured store does not accept direct uploads")
	}

	if err := upload(ctx, client, post, filepath.Base(*file), audio); err != nil {
		log.Fatal().Err(err).Msg("Upload failed")
	}
	log.Info().Str("key", *key).Int("bytes", len(audio)).Msg("Recording uploaded")
}

func login(ctx context.Context, client *http.Client, server, user, pass string) error {
	form := url.Values{"username": {user}, "password": {pass}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server+"/login", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	u, _ := url.Parse(server)
	for _, c := range client.Jar.Cookies(u) {
		if c.Value != "" {
			return nil
		}
	}
	return fmt.Errorf("no session issued (status %d)", resp.StatusCode)
}

func presign(ctx context.Context, client *http.Client, server, key, contentType string) (*storage.PresignedPost, error) {
	form := url.Values{"file-name": {key}, "file-type": {contentType}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server+"/upload", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("presign returned status %d", resp.StatusCode)
	}

	var post storage.PresignedPost
	if err := json.NewDecoder(resp.Body).Decode(&post); err != nil {
		return nil, fmt.Errorf("decode presigned post: %w", err)
	}
	return &post, nil
}

// upload sends the form fields first and the file last, as S3 requires.
func upload(ctx context.Context, client *http.Client, post *storage.PresignedPost, name string, audio []byte) error {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range post.Fields {
		if err := w.WriteField(k, v); err != nil {
			return err
		}
	}
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := part.Write(audio); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, post.URL, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("bucket returned status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
