// Package main provides the lora-scenario tool for E2E testing.
// lora-scenario runs the six concrete scenarios from the broker's design
// against a real broker instance, either one it starts itself or one
// already listening at --addr.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/lora-sim/broker/internal/broker"
	"github.com/lora-sim/broker/internal/logging"
	"github.com/lora-sim/broker/internal/rng"
	"github.com/lora-sim/broker/test/testutil"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runScenarios()
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`lora-scenario - broker scenario runner

Commands:
  run     Run the six concrete scenarios against a broker
  help    Show this help message

Run flags:
  --addr    Address of a running broker to test against (default: start one in-process)
  --seed    RNG seed for the in-process broker (default: 1)
`)
}

func runScenarios() {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	addr := fs.String("addr", "", "address of a running broker (starts one in-process if empty)")
	seed := fs.Int64("seed", 1, "RNG seed for the in-process broker")
	fs.Parse(os.Args[2:])

	target := *addr
	if target == "" {
		var stop func()
		target, stop = startInProcessBroker(*seed)
		defer stop()
	}

	scenarios := []struct {
		name string
		run  func(addr string) error
	}{
		{"co-located pair, clear air", scenarioCoLocatedPair},
		{"sf7 edge out-of-range", scenarioSF7Edge},
		{"same-sf burst", scenarioSameSFBurst},
		{"streak penalty", scenarioStreakPenalty},
		{"heavy rain delay", scenarioHeavyRainDelay},
		{"broadcast fan-out", scenarioBroadcastFanOut},
	}

	passed, failed := 0, 0
	for i, sc := range scenarios {
		fmt.Printf("%d. %s... ", i+1, sc.name)
		if err := sc.run(target); err != nil {
			fmt.Printf("FAILED: %v\n", err)
			failed++
			continue
		}
		fmt.Println("PASSED")
		passed++
	}

	fmt.Printf("\n%d passed, %d failed\n", passed, failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func startInProcessBroker(seed int64) (addr string, stop func()) {
	addr = testutil.FreePort()
	if addr == "" {
		fmt.Fprintln(os.Stderr, "failed to find a free port")
		os.Exit(1)
	}

	logger := logging.NewLogger(logging.LevelError)
	b, err := broker.New(broker.Config{
		ListenAddr: addr,
		Logger:     logger,
		RNG:        rng.New(seed),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to construct broker: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)

	testutil.WaitFor(2*time.Second, func() bool {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	})
	return addr, cancel
}

func dialAndRegister(addr string, nodeID int, x, y float64) (net.Conn, error) {
	return testutil.DialAndRegister(addr, nodeID, x, y)
}

func sendTx(conn net.Conn, from int, data, metaJSON string) error {
	_, err := conn.Write([]byte(testutil.TxFrame(from, data, metaJSON)))
	return err
}

func readFrame(conn net.Conn, timeout time.Duration) (map[string]interface{}, error) {
	return testutil.ReadFrame(conn, timeout)
}

func scenarioCoLocatedPair(addr string) error {
	sender, err := dialAndRegister(addr, 101, 0, 0)
	if err != nil {
		return err
	}
	defer sender.Close()
	receiver, err := dialAndRegister(addr, 102, 0, 0)
	if err != nil {
		return err
	}
	defer receiver.Close()
	time.Sleep(50 * time.Millisecond)

	if err := sendTx(sender, 101, "Hello", `{"destination":102,"sf":7,"tx_power":23,"frequency":915}`); err != nil {
		return err
	}
	frame, err := readFrame(receiver, 3*time.Second)
	if err != nil {
		return fmt.Errorf("no frame delivered: %w", err)
	}
	if frame["data"] != "Hello" {
		return fmt.Errorf("data = %v, want Hello", frame["data"])
	}
	rssi, _ := frame["rssi"].(float64)
	if rssi <= -40 {
		return fmt.Errorf("rssi = %v, want > -40", rssi)
	}
	return nil
}

func scenarioSF7Edge(addr string) error {
	sender, err := dialAndRegister(addr, 201, 0, 0)
	if err != nil {
		return err
	}
	defer sender.Close()
	receiver, err := dialAndRegister(addr, 202, 5.1, 0)
	if err != nil {
		return err
	}
	defer receiver.Close()
	time.Sleep(50 * time.Millisecond)

	if err := sendTx(sender, 201, "x", `{"destination":202,"sf":7}`); err != nil {
		return err
	}
	if _, err := readFrame(receiver, 300*time.Millisecond); err == nil {
		return fmt.Errorf("expected no delivery beyond SF7 max range")
	}
	return nil
}

func scenarioSameSFBurst(addr string) error {
	receiver, err := dialAndRegister(addr, 302, 0, 0)
	if err != nil {
		return err
	}
	defer receiver.Close()

	senders := make([]net.Conn, 10)
	for i := range senders {
		s, err := dialAndRegister(addr, 310+i, 0.2, 0)
		if err != nil {
			return err
		}
		defer s.Close()
		senders[i] = s
	}
	time.Sleep(50 * time.Millisecond)

	for i, s := range senders {
		if err := sendTx(s, 310+i, "burst", `{"destination":302,"sf":7}`); err != nil {
			return err
		}
	}

	delivered := 0
	for i := 0; i < len(senders); i++ {
		if _, err := readFrame(receiver, 500*time.Millisecond); err == nil {
			delivered++
		} else {
			break
		}
	}
	if delivered == len(senders) {
		return fmt.Errorf("expected at least one drop from collision/interference under a same-sf burst")
	}
	return nil
}

func scenarioStreakPenalty(addr string) error {
	sender, err := dialAndRegister(addr, 401, 0, 0)
	if err != nil {
		return err
	}
	defer sender.Close()
	receiver, err := dialAndRegister(addr, 402, 6, 0)
	if err != nil {
		return err
	}
	defer receiver.Close()
	time.Sleep(50 * time.Millisecond)

	for i := 0; i < 10; i++ {
		if err := sendTx(sender, 401, "x", `{"destination":402,"sf":7}`); err != nil {
			return err
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := sendTx(sender, 401, "upgrade", `{"destination":402,"sf":12}`); err != nil {
		return err
	}
	if _, err := readFrame(receiver, 3*time.Second); err != nil {
		return fmt.Errorf("expected delivery after sf upgrade to recover from streak penalty: %w", err)
	}
	return nil
}

func scenarioHeavyRainDelay(addr string) error {
	// The broker doesn't expose per-frame delay over the wire directly,
	// so this scenario checks the weaker observable: both configurations
	// eventually deliver, confirming rain doesn't hard-drop at this range.
	sender, err := dialAndRegister(addr, 501, 0, 0)
	if err != nil {
		return err
	}
	defer sender.Close()
	receiver, err := dialAndRegister(addr, 502, 2, 0)
	if err != nil {
		return err
	}
	defer receiver.Close()
	time.Sleep(50 * time.Millisecond)

	if err := sendTx(sender, 501, "rain", `{"destination":502,"sf":9,"weather":"heavy-rain"}`); err != nil {
		return err
	}
	if _, err := readFrame(receiver, 3*time.Second); err != nil {
		return fmt.Errorf("expected delivery under heavy rain at 2km/sf9: %w", err)
	}
	return nil
}

func scenarioBroadcastFanOut(addr string) error {
	sender, err := dialAndRegister(addr, 601, 0, 0)
	if err != nil {
		return err
	}
	defer sender.Close()

	var receivers []net.Conn
	for i, dist := range []float64{0.5, 1.5, 3.0} {
		r, err := dialAndRegister(addr, 610+i, dist, 0)
		if err != nil {
			return err
		}
		defer r.Close()
		receivers = append(receivers, r)
	}
	time.Sleep(50 * time.Millisecond)

	if err := sendTx(sender, 601, "fanout", `{"broadcast":true,"sf":9}`); err != nil {
		return err
	}

	sender.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, err := bufio.NewReader(sender).ReadByte(); err == nil {
		return fmt.Errorf("broadcast must not echo back to the sender")
	}

	anyDelivered := false
	for _, r := range receivers {
		if _, err := readFrame(r, 500*time.Millisecond); err == nil {
			anyDelivered = true
		}
	}
	if !anyDelivered {
		return fmt.Errorf("expected at least one receiver to get the broadcast")
	}
	return nil
}
