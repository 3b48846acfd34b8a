/*
Package tokens issues single-use handoff tokens for the dashboard-to-wizard
boundary. Tokens are 256 bits of CSPRNG entropy, live only in memory, expire
after 15 minutes, and are swept every minute.
*/
package tokens
