package orchestrator

import (
	"context"
	"strings"
)

// SelectVoice picks the best voice for tag: exact tag, then same base
// subtag, then the first catalog voice whose tag is one of the regional
// fallbacks, then any voice of defaultLang. It returns nil when nothing
// matches.
func SelectVoice(voices []Voice, tag, defaultLang string, regionals []string) *Voice {
	if len(voices) == 0 {
		return nil
	}
	for i := range voices {
		if strings.EqualFold(voices[i].Lang, tag) {
			return &voices[i]
		}
	}
	base := BaseSubtag(tag)
	if base != "" {
		for i := range voices {
			if BaseSubtag(voices[i].Lang) == base {
				return &voices[i]
			}
		}
	}
	for i := range voices {
		for _, regional := range regionals {
			if strings.EqualFold(voices[i].Lang, regional) {
				return &voices[i]
			}
		}
	}
	defaultBase := BaseSubtag(defaultLang)
	if defaultBase == "" {
		return nil
	}
	for i := range voices {
		if BaseSubtag(voices[i].Lang) == defaultBase {
			return &voices[i]
		}
	}
	return nil
}

// Voices returns the current voice catalog snapshot.
func (o *Orchestrator) Voices() []Voice {
	o.voicesMu.RLock()
	defer o.voicesMu.RUnlock()
	out := make([]Voice, len(o.voices))
	copy(out, o.voices)
	return out
}

// RefreshVoices replaces the voice catalog with the platform's current list.
// A failed or empty listing keeps the previous snapshot.
func (o *Orchestrator) RefreshVoices(ctx context.Context) {
	speech, ok := o.platform.NativeSpeech()
	if !ok {
		return
	}
	list, err := speech.Voices(ctx)
	if err != nil {
		o.logger.Warn("voice catalog refresh failed", "error", err)
		return
	}
	if len(list) == 0 {
		return
	}
	snapshot := make([]Voice, len(list))
	copy(snapshot, list)

	o.voicesMu.Lock()
	o.voices = snapshot
	o.voicesMu.Unlock()
	o.logger.Debug("voice catalog refreshed", "voices", len(snapshot))
}
