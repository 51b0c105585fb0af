package email

const (
	subjectPrefix = "[booking-sync] "

	SubjectMissingHandle     = subjectPrefix + "Client handle missing"
	SubjectAmbiguousIdentity = subjectPrefix + "Ambiguous client match"
	SubjectClientsMerged     = subjectPrefix + "Duplicate clients merged"
)

// Subject prefixes an alert subject.
func Subject(title string) string {
	return subjectPrefix + title
}
