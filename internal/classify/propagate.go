package classify

// Propagate turns the first-pass strong hits into a complete classification.
//
// groups buckets global page indices by owning source PDF. texts holds the
// extracted text per global index. strong holds first-pass results obtained
// with the table heuristic disabled.
//
// Second pass: pages without a strong hit are re-matched with the CRC table
// heuristic enabled only when a sibling page in the same PDF hit CRC strongly,
// defaulting to HEV. Then, when a PDF's strong hits name exactly one category
// out of {FEV, CRC, PDE}, that category takes over every non-strong page of
// the PDF. This keeps mixed-quality scans inside one PDF coherent.
func Propagate(texts map[int]string, strong map[int]Category, groups map[int][]int) map[int]Category {
	result := make(map[int]Category, len(texts))
	for g, cat := range strong {
		result[g] = cat
	}

	for _, pages := range groups {
		pdfHasStrongCRC := false
		for _, g := range pages {
			if strong[g] == CRC {
				pdfHasStrongCRC = true
				break
			}
		}
		for _, g := range pages {
			if _, ok := strong[g]; ok {
				continue
			}
			if cat, ok := Match(texts[g], pdfHasStrongCRC); ok {
				result[g] = cat
			} else {
				result[g] = HEV
			}
		}
	}

	for _, pages := range groups {
		dominant, ok := dominantCategory(pages, strong)
		if !ok {
			continue
		}
		for _, g := range pages {
			if _, isStrong := strong[g]; !isStrong {
				result[g] = dominant
			}
		}
	}
	return result
}

// dominantCategory reports the single category from {FEV, CRC, PDE} present
// among a PDF's strong hits, if there is exactly one.
func dominantCategory(pages []int, strong map[int]Category) (Category, bool) {
	seen := make(map[Category]bool)
	for _, g := range pages {
		switch strong[g] {
		case FEV, CRC, PDE:
			seen[strong[g]] = true
		}
	}
	if len(seen) != 1 {
		return "", false
	}
	for cat := range seen {
		return cat, true
	}
	return "", false
}
