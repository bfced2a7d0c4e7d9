package container

import (
	"sort"
	"time"

	"github.com/chuffdetect/callsentry/internal/wavcodec"
)

// OnFinished is invoked once the background parse loop exits, so a
// recording sink can flush accumulated WAV bytes without the container
// package needing to know about file I/O. Set via SetOnFinished before
// the first packet arrives.
type OnFinished func(c *Container)

var noopOnFinished OnFinished = func(*Container) {}

// start launches the background parse loop exactly once, mirroring
// asyncio.create_task(self.start_parse()) on the first appended packet.
func (c *Container) start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	onFinished := c.onFinished
	c.mu.Unlock()

	go c.runParseLoop(onFinished)
}

// SetOnFinished registers the callback invoked when the parse loop exits.
func (c *Container) SetOnFinished(fn OnFinished) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFinished = fn
}

func (c *Container) runParseLoop(onFinished OnFinished) {
	c.log.Printf("begin parse loop")
	for {
		c.mu.Lock()
		breakTime := c.breakWhileTime
		hasAnswer := c.EventAnswer != nil
		c.mu.Unlock()

		if time.Now().After(breakTime) {
			break
		}

		if hasAnswer {
			time.Sleep(200 * time.Millisecond)
		} else {
			time.Sleep(500 * time.Millisecond)
		}

		c.mu.Lock()
		c.checkEnd()
		c.fastBuild()
		c.findFirstNoise()

		if c.seqNumFirstBeep == CodeAwait {
			c.findSeqNumFirstBeep()
			c.findAmpADCNoise()
		}

		if c.EventAnswer != nil {
			c.findSeqNumNoiseAfterAnswer()
		} else {
			c.findSeqNumVoiceBeforeAnswer()
		}
		c.findAbsoluteSilence()
		c.mu.Unlock()
	}

	c.log.Printf("end parse loop")
	close(c.done)

	if onFinished == nil {
		onFinished = noopOnFinished
	}
	onFinished(c)
}

// checkEnd tightens break_while_time to 30 seconds after the last packet
// when packets have stopped arriving and no DESTROY event has been seen,
// per check_end.
func (c *Container) checkEnd() {
	if time.Now().After(c.breakWhileTime) {
		return
	}
	if c.EventDestroy != nil {
		return
	}
	if time.Since(c.timeLastPkt) > 30*time.Second {
		c.breakWhileTime = c.timeLastPkt.Add(30 * time.Second)
		c.log.Printf("new packages are not received and event_destroy not found")
	}
}

// fastBuild drains up to 400 pending packets, corrects sequence-number
// wraps, fills loss gaps by repeating the first package's samples, and
// recomputes duration_stream. Grounded on fast_build.
func (c *Container) fastBuild() {
	batch := c.pendingPackages
	if len(batch) > 400 {
		batch = batch[:400]
	}
	c.pendingPackages = c.pendingPackages[len(batch):]

	for _, pkt := range batch {
		fixSeqNum := int(pkt.SeqNum)

		if c.seqNumLastPackage-fixSeqNum > SeqNumberAfterFirstReset-1000 {
			if fixSeqNum < 1000 {
				c.numberResetsSeq = round(float64(c.seqNumLastPackage) / SeqNumberAfterFirstReset)
			}
			fixSeqNum = int(pkt.SeqNum) + c.numberResetsSeq*SeqNumberAfterFirstReset
		}

		if c.seqNumLastPackage < fixSeqNum {
			c.seqNumLastPackage = fixSeqNum
		}

		c.analyzedSamples[fixSeqNum] = pkt.Amplitudes
		c.bytesSamples[fixSeqNum] = wavcodec.EncodeLittleEndian(pkt.Amplitudes)
		c.maxAmpSamples[fixSeqNum] = pkt.MaxAmp
		c.minAmpSamples[fixSeqNum] = pkt.MinAmp
	}

	c.durationStream = float64(len(c.analyzedSamples)) * c.durationOneSample()

	if time.Now().Before(c.detectUntilTime) && len(batch) > 50 {
		c.log.Printf("find delay!!! count parse_packages=%d", len(batch))
	}

	if len(c.analyzedSamples) == c.seqNumLastPackage-c.seqNumFirstPackage+1 {
		return
	}

	var lostFrom, lostTo, lostCount int
	for seq := c.seqNumFirstPackage; seq < c.seqNumLastPackage; seq++ {
		if _, ok := c.analyzedSamples[seq]; !ok {
			if lostCount == 0 {
				lostFrom = seq
			}
			lostTo = seq
			lostCount++
			c.analyzedSamples[seq] = c.analyzedSamples[c.seqNumFirstPackage]
			c.maxAmpSamples[seq] = 0
			c.minAmpSamples[seq] = 0
		}
	}
	if lostCount > 0 {
		c.log.Printf("lost from %d to %d, count=%d", lostFrom, lostTo, lostCount)
	}
}

func round(f float64) int {
	if f < 0 {
		return -round(-f)
	}
	return int(f + 0.5)
}

// findSeqNumFirstBeep scans analyzed samples in sequence order for the
// first amplitude above AmpBeep. If an ANSWER arrives before any beep is
// found, the beep search gives up (the call was answered without a
// detected prompt). Grounded on find_seq_num_first_beep.
func (c *Container) findSeqNumFirstBeep() {
	if c.seqNumFirstBeep != CodeAwait {
		return
	}

	seqs := sortedKeys(c.maxAmpSamples)
	for _, seq := range seqs {
		if c.seqNumAnswerPackage != CodeAwait {
			c.log.Printf("find answer, but not found beep!")
			c.seqNumFirstBeep = CodeNotFound
			return
		}
		if c.maxAmpSamples[seq] > AmpBeep {
			c.seqNumFirstBeep = seq
			c.log.Printf("find_first_beep_time seq_num=%d", seq)
			return
		}
	}
}

// findAmpADCNoise estimates a constant ADC noise floor from a packet
// whose max/min amplitudes sit close together but above the noise
// threshold, skipping the search once a beep or an answer has been seen.
// Grounded on find_amp_adc_noise; baseline is (max+min)/2 of the
// qualifying packet (an Open Question spec.md §9 resolves this way).
func (c *Container) findAmpADCNoise() {
	if c.ampADCNoise != CodeAwait {
		return
	}
	if c.seqNumFirstBeep > 0 {
		c.ampADCNoise = CodeNotFound
		return
	}
	if c.EventAnswer != nil {
		c.ampADCNoise = CodeNotFound
		return
	}

	for seq := range c.analyzedSamples {
		maxAmp := int(c.maxAmpSamples[seq])
		minAmp := int(c.minAmpSamples[seq])

		if minAbs(minAmp, maxAmp) < AmpNoise {
			continue
		}
		if maxAmp-minAmp > AmpBeep {
			c.ampADCNoise = CodeNotFound
			return
		}
		if maxAmp != 0 {
			ratio := float64(minAmp) / float64(maxAmp)
			if ratio > 0.8 && ratio < 1.25 {
				avg := (maxAmp + minAmp) / 2
				c.log.Printf("found ADC noise min_amp=%d and max_amp=%d avg=%d", minAmp, maxAmp, avg)
				c.ampADCNoise = avg
				return
			}
		}
	}
}

// findSeqNumNoiseAfterAnswer runs a leaky counter over samples at/after
// the computed answer sequence number, incrementing on amplitudes above
// AmpNoise (after subtracting the ADC noise baseline) and decaying by 0.3
// otherwise; the first sequence where the counter exceeds 2 wins.
// Grounded on find_seq_num_noise_after_answer.
func (c *Container) findSeqNumNoiseAfterAnswer() {
	if c.seqNumNoiseAfterAnswer != CodeAwait {
		return
	}
	if c.EventAnswer == nil {
		return
	}

	counter := 0.0
	for _, seq := range sortedKeysInt16(c.maxAmpSamples) {
		if seq < c.seqNumAnswerPackage {
			continue
		}

		maxAmp := int(c.maxAmpSamples[seq])
		if c.ampADCNoise > 0 {
			maxAmp -= c.ampADCNoise
		}

		if maxAmp > AmpNoise {
			counter++
		} else {
			counter -= 0.3
			if counter < 0 {
				counter = 0
			}
		}

		if counter > 2 {
			c.log.Printf("found noise after answer seq_num=%d", seq)
			c.seqNumNoiseAfterAnswer = seq
			return
		}
	}
}

// findSeqNumVoiceBeforeAnswer scans past a sliding "end of beep region"
// (10 consecutive beep-threshold hits extend the region by 50 sequence
// numbers) and reports the first sequence past it whose amplitude
// exceeds AmpVoice. Grounded on find_seq_num_voice_before_answer.
func (c *Container) findSeqNumVoiceBeforeAnswer() {
	if c.seqNumVoiceBeforeAnswer != CodeAwait {
		return
	}

	seqs := sortedKeysInt16(c.maxAmpSamples)

	seqNumLastBeep := 0
	counter := 0
	for _, seq := range seqs {
		if seq < seqNumLastBeep {
			continue
		}
		if c.maxAmpSamples[seq] > AmpBeep {
			counter++
		} else {
			counter = 0
		}
		if counter >= 10 {
			seqNumLastBeep = seq + 50
		}
	}
	if counter > 1 {
		seqNumLastBeep = c.seqNumLastPackage
	}

	for _, seq := range seqs {
		if seq < seqNumLastBeep {
			continue
		}
		if c.maxAmpSamples[seq] > AmpVoice {
			c.log.Printf("found voice before answer seq_num=%d", seq)
			c.seqNumVoiceBeforeAnswer = seq
			return
		}
	}
}

// findFirstNoise sets found_first_noise once any marker above fires, or
// when more than one sequence shows a (max-min) spread above AmpNoise.
// Grounded on find_first_noise.
func (c *Container) findFirstNoise() {
	if c.foundFirstNoise == 1 {
		return
	}
	if maxOf(c.seqNumFirstBeep, c.seqNumNoiseAfterAnswer, c.seqNumVoiceBeforeAnswer) > 0 {
		c.foundFirstNoise = 1
		return
	}

	if len(c.maxAmpSamples) == 0 {
		return
	}

	counter := 0
	for seq, maxAmp := range c.maxAmpSamples {
		minAmp := c.minAmpSamples[seq]
		if int(maxAmp-minAmp) > AmpNoise {
			counter++
		}
	}
	if counter > 1 {
		c.log.Printf("FOUND FIRST NOISE")
		c.foundFirstNoise = 1
	}
}

// findAbsoluteSilence classifies the channel as absolute silence once it
// has run for SecondsForAbsoluteSilence without tripping any other
// acoustic marker and without a sample above AmpNoise. Grounded on
// audio_packages.py's find_absolute_silence (which returns 0, i.e. not
// silent, as soon as any of the other markers fires) with the file's own
// TODO resolved by its sibling SECONDS_FOR_ABSOLUTE_SILENCE constant.
func (c *Container) findAbsoluteSilence() {
	if c.absoluteSilence {
		return
	}
	if maxOf(c.seqNumFirstBeep, c.seqNumNoiseAfterAnswer, c.seqNumVoiceBeforeAnswer) > 0 {
		return
	}
	if time.Since(c.timeFirstPkt) < SecondsForAbsoluteSilence {
		return
	}

	for _, maxAmp := range c.maxAmpSamples {
		amp := int(maxAmp)
		if c.ampADCNoise > 0 {
			amp -= c.ampADCNoise
		}
		if amp > AmpNoise {
			return
		}
	}

	c.log.Printf("found absolute silence")
	c.absoluteSilence = true
}

func sortedKeys(m map[int]int16) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func sortedKeysInt16(m map[int]int16) []int {
	return sortedKeys(m)
}

func minAbs(a, b int) int {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	if a < b {
		return a
	}
	return b
}

func maxOf(vals ...int) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
