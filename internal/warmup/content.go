package warmup

import (
	"fmt"
	"math/rand"
	"strings"
)

// SeedMarker tags every warmup subject so the mailbox watcher can tell
// peer warmup traffic from real replies.
const SeedMarker = "LFW"

var seedSubjects = []string{
	"Quick sync on the %s notes",
	"Following up on our %s conversation",
	"Thoughts on the %s draft?",
	"Re: %s planning",
	"Checking in about %s",
}

var seedTopics = []string{
	"Q3", "roadmap", "onboarding", "launch", "budget", "offsite", "hiring",
}

var seedBodies = []string{
	"Hey,\n\nJust circling back on this. Let me know when you have a minute.\n\nBest",
	"Hi,\n\nWanted to make sure this didn't slip through. Any updates on your end?\n\nThanks",
	"Hello,\n\nSounds good to me overall. I'll put together the next steps this week.\n\nCheers",
	"Hey,\n\nThanks for the details earlier. I think we're aligned, will confirm soon.\n\nBest",
}

var seedReplies = []string{
	"Thanks for the note! This looks great.",
	"Got it, appreciate the follow-up. Let's move forward.",
	"Sounds good to me. Talk soon!",
	"Perfect timing, I was just about to ping you about this.",
}

// SeedSubject returns a randomized warmup subject carrying the marker.
func SeedSubject() string {
	subject := fmt.Sprintf(seedSubjects[rand.Intn(len(seedSubjects))],
		seedTopics[rand.Intn(len(seedTopics))])
	return fmt.Sprintf("%s [%s-%04d]", subject, SeedMarker, rand.Intn(10000))
}

// SeedBody returns a randomized warmup body.
func SeedBody() string {
	return seedBodies[rand.Intn(len(seedBodies))]
}

// SeedReply returns a canned positive-sentiment reply body.
func SeedReply() string {
	return seedReplies[rand.Intn(len(seedReplies))]
}

// IsSeed reports whether a subject belongs to warmup traffic.
func IsSeed(subject string) bool {
	return strings.Contains(subject, "["+SeedMarker+"-")
}
