//go:build pcsc

// Command cardkit-demo drives one physical reader through the full
// Platform → Device → CardSession lifecycle and prints an ISO/IEC 7816-4
// trace of what it found: master file selection, a directory read loop
// over SFI 1 and a SELECT of each AID in a short fixed list. Unlike the EMV-flavored demo this project started from, it
// never touches payment-scheme business data: it only exercises the
// generic lifecycle and the iso7816 SELECT/READ RECORD convenience layer.
package main

import (
	"context"
	"fmt"
	"log"

	"github.com/gregLibert/cardkit/pkg/apdu"
	"github.com/gregLibert/cardkit/pkg/cardkiterr"
	"github.com/gregLibert/cardkit/pkg/device"
	"github.com/gregLibert/cardkit/pkg/event"
	"github.com/gregLibert/cardkit/pkg/iso7816"
	"github.com/gregLibert/cardkit/pkg/platformmgr"
	"github.com/gregLibert/cardkit/pkg/session"
	"github.com/gregLibert/cardkit/pkg/transport"
	"github.com/gregLibert/cardkit/pkg/transport/pcsc"
)

// wellKnownAIDs are tried against the card in the chosen reader purely to demonstrate the
// SELECT command builder; none of these are parsed for business data.
var wellKnownAIDs = [][]byte{
	[]byte("1PAY.SYS.DDF01"),
	[]byte("2PAY.SYS.DDF01"),
}

// demoSFI is the short file identifier step2ReadRecords walks; it carries
// no special meaning, it just exercises ReadRecord against whatever EF a
// reader's card exposes under SFI 1.
const demoSFI byte = 1

func main() {
	bus := event.NewBus()
	logEvents(bus)

	platformmgr.Configure(func() (transport.Transport, error) {
		return pcsc.New()
	}, bus)

	p, err := platformmgr.GetPlatform()
	if err != nil {
		log.Fatalf("acquiring platform: %v", err)
	}

	ctx := context.Background()

	if err := p.Init(ctx, false); err != nil {
		log.Fatalf("initializing platform: %v", err)
	}
	defer func() {
		if err := p.Release(ctx, false); err != nil {
			log.Printf("releasing platform: %v", err)
		}
	}()

	infos, err := p.GetDeviceInfo(ctx)
	if err != nil {
		log.Fatalf("enumerating devices: %v", err)
	}

	var targetID string
	for _, info := range infos {
		if info.SupportsApdu {
			targetID = info.ID
			break
		}
	}
	if targetID == "" {
		log.Fatal("no APDU-capable reader found")
	}
	fmt.Printf(">> Using reader: %s\n", targetID)

	dev, err := p.AcquireDevice(ctx, targetID)
	if err != nil {
		log.Fatalf("acquiring device: %v", err)
	}
	defer func() {
		if err := dev.Release(ctx); err != nil {
			log.Printf("releasing device: %v", err)
		}
	}()

	fmt.Println(">> Waiting for a card...")
	if err := dev.WaitForCardPresence(ctx, device.DefaultWaitTimeoutMs); err != nil {
		log.Fatalf("waiting for card presence: %v", err)
	}

	sess, err := dev.StartSession(ctx)
	if err != nil {
		log.Fatalf("starting session: %v", err)
	}
	defer func() {
		if err := sess.Release(ctx); err != nil {
			log.Printf("releasing session: %v", err)
		}
	}()

	if atr, err := sess.GetAtr(ctx); err == nil {
		fmt.Printf(">> ATR (historical bytes, or the raw ATR when it has none): % X\n", atr)
	}

	cls, err := apdu.NewClass(0x00)
	if err != nil {
		log.Fatalf("building CLA: %v", err)
	}

	if err := step1SelectMF(ctx, sess, cls); err != nil {
		log.Printf("Step 1 warning: %v", err)
	}

	step2ReadRecords(ctx, sess, cls, demoSFI)

	step3SelectCandidates(ctx, sess, cls, wellKnownAIDs)

	fmt.Println("\n>> Demo finished successfully")
}

// traceOf wraps a single Command/Response pair as a one-transaction Trace
// so the iso7816 result types (which report on a full Trace, including
// any GET RESPONSE chaining) can describe a CardSession.Transmit call,
// which already hides that chaining.
func traceOf(cmd *apdu.Command, resp *apdu.Response) apdu.Trace {
	return apdu.Trace{{Command: cmd, Response: resp}}
}

// step1SelectMF selects the master file and prints its FCI/FMD, if any.
func step1SelectMF(ctx context.Context, sess *session.CardSession, cls apdu.Class) error {
	fmt.Println("\n=============================================")
	fmt.Println(" Step 1: SELECT MF")
	fmt.Println("=============================================")

	cmd := iso7816.SelectMF(cls)
	resp, err := sess.Transmit(ctx, cmd)
	if err != nil {
		return fmt.Errorf("transmission failed: %w", err)
	}

	res, err := iso7816.NewSelectResult(traceOf(cmd, resp))
	if err != nil {
		return fmt.Errorf("result creation failed: %w", err)
	}
	fmt.Println(res.Describe())

	if !res.IsSuccess() {
		return fmt.Errorf("MF selection failed with status: %s", resp.Status.Verbose())
	}
	return nil
}

// step2ReadRecords walks sfi's records until the card reports
// RECORD_NOT_FOUND, printing the ISO-level report for each.
func step2ReadRecords(ctx context.Context, sess *session.CardSession, cls apdu.Class, sfi byte) {
	fmt.Println("\n=============================================")
	fmt.Printf(" Step 2: Reading records (SFI %d)\n", sfi)
	fmt.Println("=============================================")

	for recNum := byte(1); recNum <= 30; recNum++ {
		cmd := iso7816.ReadRecord(cls, sfi, recNum)
		resp, err := sess.Transmit(ctx, cmd)
		if err != nil {
			log.Printf("(!) communication broken: %v", err)
			break
		}
		if resp.Status == 0x6A83 {
			fmt.Println(">> Status 6A83 received: end of directory reached.")
			break
		}

		res, err := iso7816.NewReadRecordResult(traceOf(cmd, resp))
		if err != nil {
			log.Printf("(!) building read record result: %v", err)
			continue
		}
		fmt.Println(res.Describe())
	}
}

// step3SelectCandidates selects every well-known AID in turn and prints
// whatever file control information comes back.
func step3SelectCandidates(ctx context.Context, sess *session.CardSession, cls apdu.Class, aids [][]byte) {
	fmt.Println("\n=============================================")
	fmt.Printf(" Step 3: Selecting %d candidate application(s)\n", len(aids))
	fmt.Println("=============================================")

	for i, aid := range aids {
		fmt.Printf("\n[App %d/%d] Selecting AID: % X\n", i+1, len(aids), aid)

		cmd := iso7816.SelectByAID(cls, aid)
		resp, err := sess.Transmit(ctx, cmd)
		if err != nil {
			if cardkiterr.Of(err) == cardkiterr.CardNotPresent {
				fmt.Println("(!) card was removed mid-demo, stopping candidate selection.")
				return
			}
			log.Printf("transmission failed for AID % X: %v", aid, err)
			continue
		}

		res, err := iso7816.NewSelectResult(traceOf(cmd, resp))
		if err != nil {
			log.Printf("building select result: %v", err)
			continue
		}
		if res.IsSuccess() {
			fmt.Println(res.Describe())
		} else {
			fmt.Printf("Selection failed: %s\n", resp.Status.Verbose())
		}
	}
}

func logEvents(bus *event.Bus) {
	for _, name := range []event.Name{
		event.PlatformInitialized, event.PlatformReleased,
		event.DeviceAcquired, event.DeviceReleased,
		event.CardFound, event.CardLost,
		event.CardSessionStarted, event.CardSessionReset,
		event.WaitTimeout, event.ApduFailed,
	} {
		bus.Subscribe(name, func(e event.Event) {
			log.Printf("[event] %-20s handle=%q detail=%q", e.Name, e.Handle, e.Detail)
		})
	}
}
