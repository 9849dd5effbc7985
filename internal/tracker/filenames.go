package tracker

import "github.com/harvest-downloader/harvest/internal/utils"

// CounterSeparator sits between a duplicate filename's stem and its counter.
const CounterSeparator = "_"

// DisambiguateFilenames derives one filename per URL from its last path
// segment. Every repeat of a name gets "_<n>" before the extension, n
// counting from 1 within this call:
//
//	.../a.txt, .../a.txt, .../a.txt -> a.txt, a_1.txt, a_2.txt
func DisambiguateFilenames(urls []string) []string {
	names := make([]string, len(urls))
	used := make(map[string]bool, len(urls))
	counters := make(map[string]int)

	for i, u := range urls {
		candidate := utils.FilenameFromURL(u)
		if !used[candidate] {
			used[candidate] = true
			names[i] = candidate
			continue
		}
		n := counters[candidate]
		name := candidate
		for used[name] {
			n++
			name = utils.WithCounter(candidate, CounterSeparator, n)
		}
		counters[candidate] = n
		used[name] = true
		names[i] = name
	}
	return names
}

// suggestedFilenames is what the tracker hands the provider: empty for a
// URL that kept its own name, so the provider may prefer the server's
// Content-Disposition, and the disambiguated name otherwise.
func suggestedFilenames(urls []string) []string {
	names := DisambiguateFilenames(urls)
	for i, u := range urls {
		if names[i] == utils.FilenameFromURL(u) {
			names[i] = ""
		}
	}
	return names
}
