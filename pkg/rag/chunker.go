package rag

import "strings"

// Chunk splits text into consecutive word windows of at most maxWords.
// Windows never split a word and the final window carries the remainder.
func Chunk(text string, maxWords int) []string {
	if maxWords <= 0 {
		maxWords = 380
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	chunks := make([]string, 0, (len(words)+maxWords-1)/maxWords)
	for start := 0; start < len(words); start += maxWords {
		end := start + maxWords
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
	}
	return chunks
}
