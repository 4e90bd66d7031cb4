package main

import "github.com/aristath/scenepilot/internal/device"

// Element positions on the simulated 1280x720 screen.
var (
	rewardsButton = device.Point{X: 1180, Y: 80}
	claimButton   = device.Point{X: 640, Y: 560}
	homeButton    = device.Point{X: 60, Y: 60}
)

// newDemoTarget returns a simulator scripted for the built-in daily-run
// workflow: home -> rewards -> claim -> home.
func newDemoTarget() *device.Simulator {
	sim := device.NewSimulator("home")
	sim.Show("rewards_button", rewardsButton)

	sim.OnTap("rewards_button", func(s *device.Simulator) {
		s.Hide("rewards_button")
		s.SetScene("rewards")
		s.Show("claim_button", claimButton)
	})
	sim.OnTap("claim_button", func(s *device.Simulator) {
		s.Hide("claim_button")
		s.Show("home_button", homeButton)
	})
	sim.OnTap("home_button", func(s *device.Simulator) {
		s.Hide("home_button")
		s.SetScene("home")
		s.Show("rewards_button", rewardsButton)
	})
	return sim
}
