package classifier

import (
	"sync"
	"testing"

	"lumenclean/internal/models"

	"github.com/stretchr/testify/assert"
)

func settings(level models.CleaningLevel, skip bool) models.ConversationSettings {
	s := models.DefaultSettings()
	s.CleaningLevel = level
	s.SkipTranscriptionErrors = skip
	return s
}

func TestClassify_AssistantBypass(t *testing.T) {
	c := New(DefaultNoisePolicy())

	for _, speaker := range []models.Speaker{models.SpeakerLumen, models.SpeakerAI} {
		turn := models.NewTurn("conv", speaker, "um, hello there")
		d := c.Classify(turn, settings(models.LevelFull, true))
		assert.True(t, d.Bypass, speaker)
		assert.False(t, d.NeedsBackend(), speaker)
	}
}

func TestClassify_UsesConversationLevel(t *testing.T) {
	c := New(DefaultNoisePolicy())
	turn := models.NewTurn("conv", models.SpeakerUser, "I am the vector of Marketing")

	d := c.Classify(turn, settings(models.LevelLight, false))
	assert.False(t, d.Bypass)
	assert.Equal(t, models.LevelLight, d.Level)
	assert.True(t, d.NeedsBackend())

	d = c.Classify(turn, settings(models.LevelNone, false))
	assert.Equal(t, models.LevelNone, d.Level)
	assert.False(t, d.NeedsBackend())
}

func TestClassify_PerTurnOverride(t *testing.T) {
	c := New(DefaultNoisePolicy())
	turn := models.NewTurn("conv", models.SpeakerUser, "so um what's next")
	turn.LevelOverride = models.LevelLight

	d := c.Classify(turn, settings(models.LevelFull, false))
	assert.Equal(t, models.LevelLight, d.Level)
}

func TestClassify_NoiseOnlyWhenEnabled(t *testing.T) {
	c := New(DefaultNoisePolicy())
	turn := models.NewTurn("conv", models.SpeakerUser, "uh-huh")

	d := c.Classify(turn, settings(models.LevelFull, false))
	assert.Equal(t, models.LevelFull, d.Level)

	d = c.Classify(turn, settings(models.LevelFull, true))
	assert.Equal(t, models.LevelNone, d.Level)
	assert.False(t, d.Bypass)
	assert.Contains(t, d.Reason, "transcription noise")
}

func TestIsLikelyNoise(t *testing.T) {
	c := New(DefaultNoisePolicy())

	tests := []struct {
		name  string
		text  string
		noisy bool
	}{
		{"bare ack", "okay", true},
		{"two acks with punctuation", "Yeah, okay.", true},
		{"ack plus content", "okay let's go", false},
		{"greeting", "um hi", false},
		{"no letters", "... ?!", true},
		{"mostly cyrillic", "привет мир ok", true},
		{"mostly latin with one accent", "café au lait please", false},
		{"normal sentence", "I am the vector of Marketing", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			noisy, reason := c.IsLikelyNoise(tt.text)
			assert.Equal(t, tt.noisy, noisy, reason)
		})
	}
}

func TestSetPolicy_ChangesThreshold(t *testing.T) {
	c := New(DefaultNoisePolicy())
	text := "привет hello world"

	noisy, _ := c.IsLikelyNoise(text)
	assert.False(t, noisy)

	p := DefaultNoisePolicy()
	p.NonLatinThreshold = 0.2
	c.SetPolicy(p)

	noisy, _ = c.IsLikelyNoise(text)
	assert.True(t, noisy)
	assert.Equal(t, 0.2, c.Policy().NonLatinThreshold)
}

func TestClassify_ConcurrentWithPolicySwap(t *testing.T) {
	c := New(DefaultNoisePolicy())
	turn := models.NewTurn("conv", models.SpeakerUser, "ok")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Classify(turn, settings(models.LevelFull, true))
			}
		}()
		go func() {
			defer wg.Done()
			c.SetPolicy(DefaultNoisePolicy())
		}()
	}
	wg.Wait()
}
