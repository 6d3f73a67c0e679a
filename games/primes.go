package games

// The server generates a board of numbers; a configurable share of cells
// hold primes, the rest hold composites from the same range
// Every connected player sees the same board at the same moment, with a
// shared deadline
// Players tap the cells they believe are prime and lock in one answer
// Each correctly picked prime is worth +2 points; each wrong pick costs 3
// When the deadline passes, or everyone has locked in, the round ends and
// the highest score wins; tied players share the win

// Display formats:
// A grid of numbered tiles, toggled on tap, with a running countdown
// A locked-in indicator per player in the lobby sidebar

// Implementation details:
// - Use websockets to push the board, lobby state, and results
// - Identify players by cookie on first connection
// - Primality is computed once server-side and never sent to clients

// How to play
// - Each player joins with a display name and presses ready
// - The round starts automatically once everyone in the lobby is ready
// - Select the numbers you think are prime before the timer runs out
// - Press "play again" afterwards to return everyone to the lobby
