// ocrdiag prints per-page OCR diagnostics for a job by driving a running
// Tipificador API: it triggers auto-classify, summarizes categories and dumps
// each page's OCR text.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
)

func main() {
	api := flag.String("api", "http://localhost:8080", "base URL of the API")
	onlyMissing := flag.Bool("only-missing", false, "only show unclassified pages")
	limit := flag.Int("limit", 0, "limit pages shown (0 = no limit)")
	refresh := flag.Bool("refresh", false, "force re-OCR per page, ignoring cache")
	full := flag.Bool("full", false, "print full OCR text instead of a snippet")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: ocrdiag [flags] <jobId>")
		flag.PrintDefaults()
		os.Exit(2)
	}
	jobID := flag.Arg(0)
	base := strings.TrimRight(*api, "/")

	classifications, err := autoClassify(base, jobID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "auto-classify failed: %v\n", err)
		os.Exit(1)
	}

	keys := make([]int, 0, len(classifications))
	for k := range classifications {
		if idx, err := strconv.Atoi(k); err == nil {
			keys = append(keys, idx)
		}
	}
	sort.Ints(keys)

	counts := map[string]int{}
	for _, idx := range keys {
		cat := classifications[strconv.Itoa(idx)]
		if cat == "" {
			cat = "SIN"
		}
		counts[cat]++
	}
	fmt.Println("Resumen por categoria:")
	cats := make([]string, 0, len(counts))
	for cat := range counts {
		cats = append(cats, cat)
	}
	sort.Strings(cats)
	for _, cat := range cats {
		fmt.Printf("  %s: %d\n", cat, counts[cat])
	}

	shown := 0
	for _, idx := range keys {
		cat := classifications[strconv.Itoa(idx)]
		if cat == "" {
			cat = "SIN"
		}
		if *onlyMissing && cat != "SIN" {
			continue
		}

		text, err := ocrText(base, jobID, idx, *refresh)
		if err != nil {
			fmt.Fprintf(os.Stderr, "OCR page %d failed: %v\n", idx, err)
			continue
		}

		fmt.Printf("\nPagina #%d  CAT=%s\n", idx+1, cat)
		if *full {
			fmt.Println(text)
		} else {
			fmt.Println(shorten(text, 300))
		}

		shown++
		if *limit > 0 && shown >= *limit {
			break
		}
	}
}

func autoClassify(base, jobID string) (map[string]string, error) {
	resp, err := http.Post(fmt.Sprintf("%s/jobs/%s/auto-classify", base, jobID), "application/json", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var out struct {
		Classifications map[string]string `json:"classifications"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return out.Classifications, nil
}

func ocrText(base, jobID string, idx int, refresh bool) (string, error) {
	url := fmt.Sprintf("%s/jobs/%s/pages/%d/ocr.txt?refresh=%t", base, jobID, idx, refresh)
	resp, err := http.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return string(body), nil
}

func shorten(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= n {
		return text
	}
	return text[:n-3] + "..."
}
