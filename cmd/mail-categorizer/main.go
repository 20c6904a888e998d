package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/mikey/llm-mail-sorter/internal/categories"
	"github.com/mikey/llm-mail-sorter/internal/config"
	"github.com/mikey/llm-mail-sorter/internal/core"
	"github.com/mikey/llm-mail-sorter/internal/di"
	"go.uber.org/zap"
)

func main() {
	flags := di.ParseFlags()

	// Build the dependency injection container
	container, err := di.BuildCLIContainer(flags)
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	// Run the application
	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

// run classifies a single message against the configured categories and
// prints what the daemon would do with it
func run(
	flags *di.CLIFlags,
	cfg *config.Config,
	logger *zap.Logger,
	llmClient core.LLMClient,
	set *categories.Set,
) error {
	defer logger.Sync()

	// Read email from file or stdin
	var emailReader io.Reader
	if flags.InputFile != "" {
		file, err := os.Open(flags.InputFile)
		if err != nil {
			logger.Error("Failed to open input file", zap.Error(err), zap.String("file", flags.InputFile))
			return err
		}
		defer file.Close()
		emailReader = file
		logger.Info("Reading email from file", zap.String("file", flags.InputFile))
	} else {
		emailReader = os.Stdin
		logger.Info("Reading email from stdin")
	}

	// Parse email
	ref, body, err := parseMessage(bufio.NewReader(emailReader), flags.Account)
	if err != nil {
		logger.Error("Failed to parse email", zap.Error(err))
		return err
	}

	// Print email summary
	fmt.Printf("\n=== Email Summary ===\n")
	fmt.Printf("From: %s\n", ref.From)
	fmt.Printf("To: %s\n", ref.To)
	fmt.Printf("Subject: %s\n", ref.Subject)
	if !ref.Date.IsZero() {
		fmt.Printf("Date: %s\n", ref.Date.Format(time.RFC1123Z))
	}
	fmt.Printf("Fingerprint: %s\n", ref.Fingerprint)
	fmt.Printf("Body length: %d bytes\n", len(body))
	fmt.Printf("\n")

	// Classify email
	fmt.Printf("=== Classification ===\n")
	fmt.Printf("Provider: %s\n", cfg.GetLLM().Provider)
	fmt.Printf("Categories: %s\n", strings.Join(set.Names(), ", "))

	startTime := time.Now()
	results, err := llmClient.CategorizeBatch(
		context.Background(),
		[]core.ClassifierInput{{Ref: ref, Body: body}},
		set.List(),
	)
	if err != nil {
		logger.Error("Failed to classify email", zap.Error(err))
		return err
	}
	duration := time.Since(startTime)
	if len(results) == 0 {
		return fmt.Errorf("classifier returned no result")
	}
	result := results[0]

	// Print results
	fmt.Printf("\n=== Results ===\n")
	if cat, ok := set.Resolve(result.Category); ok {
		fmt.Printf("Category: %s\n", cat.Name)
		if categories.InPlace(cat, ref.Folder) {
			fmt.Printf("Action: keep in %s\n", ref.Folder)
		} else {
			fmt.Printf("Action: move to %s\n", cat.Folder)
		}
	} else {
		fmt.Printf("Category: %s (not configured, message would stay in place)\n", result.Category)
	}
	fmt.Printf("Confidence: %.1f\n", result.Confidence)
	fmt.Printf("Reasoning: %s\n", result.Rationale)
	fmt.Printf("Processing time: %v\n", duration)

	// Close any resources that need closing
	if closer, ok := llmClient.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close LLM client", zap.Error(err))
		}
	}
	return nil
}

// parseMessage extracts the envelope and the preferred text body from a raw
// RFC 5322 message. The message is treated as sitting in INBOX.
func parseMessage(r io.Reader, account string) (*core.MessageRef, string, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse email: %w", err)
	}

	var from, to string
	if addrs, err := mr.Header.AddressList("From"); err == nil && len(addrs) > 0 {
		from = addrs[0].Address
	}
	if addrs, err := mr.Header.AddressList("To"); err == nil && len(addrs) > 0 {
		to = addrs[0].Address
	}
	subject, _ := mr.Header.Subject()
	date, _ := mr.Header.Date()
	messageID, _ := mr.Header.MessageID()

	var plain, html string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		inline, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ctype, _, _ := inline.ContentType()
		content, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		switch {
		case ctype == "text/plain" && plain == "":
			plain = string(content)
		case ctype == "text/html" && html == "":
			html = string(content)
		}
	}

	body := plain
	if body == "" {
		body = html
	}

	ref := &core.MessageRef{
		Account:     account,
		Folder:      "INBOX",
		MessageID:   messageID,
		From:        from,
		To:          to,
		Subject:     subject,
		Date:        date,
		Fingerprint: core.Fingerprint(account, messageID, from, subject, date),
	}
	return ref, body, nil
}
