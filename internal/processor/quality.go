package processor

// Handwriting quality grades
const (
	QualityExcellent  = "excellent"
	QualityGood       = "good"
	QualityFair       = "fair"
	QualityPoor       = "poor"
	QualityIllegible  = "illegible"
	QualityUnreadable = "unreadable"
)

// HandwritingQuality grades legibility from recognition confidence
func HandwritingQuality(ocr OCRResult) string {
	if !ocr.HasText() {
		return QualityUnreadable
	}
	switch c := ocr.Confidence; {
	case c >= 0.95:
		return QualityExcellent
	case c >= 0.85:
		return QualityGood
	case c >= 0.70:
		return QualityFair
	case c >= 0.50:
		return QualityPoor
	default:
		return QualityIllegible
	}
}
